package service

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/sifan077/linkpay/internal/infra/geoip"
	"github.com/sifan077/linkpay/internal/infra/prometheus"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"

	defaultGeoTimeout = 50 * time.Millisecond
)

// VisitFacets is the structured classification of one visit. Empty fields are unknown.
type VisitFacets struct {
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	Country        string
	City           string
	Language       string
}

// GeoLocator resolves a public address to country and city.
type GeoLocator interface {
	Locate(ctx context.Context, addr netip.Addr) (country, city string, err error)
}

type geoIPLocator struct {
	reader *geoip.Reader
}

// NewGeoIPLocator adapts a MaxMind reader to GeoLocator.
func NewGeoIPLocator(reader *geoip.Reader) GeoLocator {
	return &geoIPLocator{reader: reader}
}

func (g *geoIPLocator) Locate(_ context.Context, addr netip.Addr) (string, string, error) {
	loc, err := g.reader.Lookup(net.IP(addr.AsSlice()))
	if err != nil {
		return "", "", err
	}
	return loc.Country, loc.City, nil
}

// ClassifierConfig tunes the visit classifier.
type ClassifierConfig struct {
	GeoTimeout     time.Duration
	BaseRateMicros int64
}

// Classifier turns raw request attributes into VisitFacets and prices the visit.
type Classifier struct {
	geo    GeoLocator
	cfg    ClassifierConfig
	logger *zap.Logger
}

// NewClassifier returns a classifier. geo may be nil, in which case geography is always empty.
func NewClassifier(geo GeoLocator, cfg ClassifierConfig, logger *zap.Logger) *Classifier {
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = defaultGeoTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{geo: geo, cfg: cfg, logger: logger}
}

// Classify never fails; anything it cannot resolve is left empty.
func (c *Classifier) Classify(ctx context.Context, rawUserAgent, ip, acceptLanguage string) VisitFacets {
	var f VisitFacets

	if raw := strings.TrimSpace(rawUserAgent); raw != "" {
		if ua := useragent.New(raw); recognized(ua) {
			f.Browser, f.BrowserVersion = ua.Browser()
			osInfo := ua.OSInfo()
			f.OS, f.OSVersion = osInfo.Name, osInfo.Version
			if f.OS == "" {
				f.OS = ua.OS()
			}
			f.Device = deviceClass(ua, raw)
		}
	}

	f.Country, f.City = c.locate(ctx, ip)
	f.Language = primaryLanguage(acceptLanguage)
	return f
}

// Earn prices a classified visit in micro units.
func (c *Classifier) Earn(_ VisitFacets) int64 {
	return c.cfg.BaseRateMicros
}

func (c *Classifier) locate(ctx context.Context, ip string) (string, string) {
	if c.geo == nil {
		return "", ""
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		prometheus.GeoLookups.WithLabelValues("invalid").Inc()
		return "", ""
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		prometheus.GeoLookups.WithLabelValues("skipped").Inc()
		return "", ""
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.GeoTimeout)
	defer cancel()

	type result struct {
		country, city string
		err           error
	}
	ch := make(chan result, 1)
	go func() {
		country, city, err := c.geo.Locate(lookupCtx, addr)
		ch <- result{country: country, city: city, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			prometheus.GeoLookups.WithLabelValues("error").Inc()
			c.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(r.err))
			return "", ""
		}
		prometheus.GeoLookups.WithLabelValues("ok").Inc()
		return r.country, r.city
	case <-lookupCtx.Done():
		prometheus.GeoLookups.WithLabelValues("timeout").Inc()
		return "", ""
	}
}

// recognized reports whether the parser found a browser or bot signature. Free
// text such as "garbage" parses as a browser named after itself otherwise.
func recognized(ua *useragent.UserAgent) bool {
	return ua.Bot() || ua.Mozilla() != "" || ua.OS() != "" || ua.OSInfo().Name != ""
}

func deviceClass(ua *useragent.UserAgent, raw string) string {
	switch {
	case ua.Bot():
		return DeviceBot
	case strings.Contains(raw, "iPad"), strings.Contains(raw, "Tablet"),
		strings.Contains(raw, "Android") && !strings.Contains(raw, "Mobile"):
		return DeviceTablet
	case ua.Mobile():
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

func primaryLanguage(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}
