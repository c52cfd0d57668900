// Package clientinfo describes where an intake request comes from: country and
// city from a MaxMind database, browser and OS from the User-Agent header.
package clientinfo

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/drivelens/drivelens/internal/intake"
	"github.com/drivelens/drivelens/internal/ratelimit"
	"github.com/mssola/useragent"
	"github.com/oschwald/maxminddb-golang"
)

type Resolver struct {
	db *maxminddb.Reader
}

type geoResult struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// New opens the MaxMind database at dbPath. A missing or unreadable database
// disables geolocation instead of failing startup.
func New(dbPath string) (*Resolver, error) {
	if dbPath == "" {
		return &Resolver{}, nil
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		slog.Warn("clientinfo: failed to open geoip database, geolocation disabled", "path", dbPath, "error", err)
		return &Resolver{}, nil
	}
	slog.Info("clientinfo: loaded geoip database", "path", dbPath)
	return &Resolver{db: db}, nil
}

func (r *Resolver) Lookup(ipStr string) (country, city string) {
	if r == nil || r.db == nil || ipStr == "" {
		return "", ""
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", ""
	}
	var result geoResult
	if err := r.db.Lookup(ip, &result); err != nil {
		return "", ""
	}
	return result.Country.ISOCode, result.City.Names["en"]
}

// Origin builds the intake origin for req.
func (r *Resolver) Origin(req *http.Request) intake.Origin {
	ip := ratelimit.ClientIP(req)
	country, city := r.Lookup(ip)
	browser, os, mobile := ParseUserAgent(req.UserAgent())
	return intake.Origin{
		IP:      ip,
		Country: country,
		City:    city,
		Browser: browser,
		OS:      os,
		Mobile:  mobile,
	}
}

func (r *Resolver) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ParseUserAgent returns the browser name, operating system and whether the
// agent is a mobile device. Bots report "Bot" as their browser.
func ParseUserAgent(s string) (browser, os string, mobile bool) {
	if s == "" {
		return "", "", false
	}
	ua := useragent.New(s)
	if ua.Bot() {
		name, _ := ua.Browser()
		if name == "" {
			name = "Bot"
		}
		return name, "", false
	}
	name, _ := ua.Browser()
	return name, ua.OSInfo().Name, ua.Mobile()
}
