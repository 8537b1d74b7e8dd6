package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"example.com/bergate/internal/ber"
	"example.com/bergate/internal/config"
	"example.com/bergate/internal/packet"
	"example.com/bergate/internal/report"
)

// Options configures server creation. Zero values fall back to the package
// defaults used by the command line tool.
type Options struct {
	StorageDir  string
	Marker      packet.Marker
	Score       ber.Options
	Lang        report.Language
	MaxUploadMB int
	Logger      logrus.FieldLogger
	Registry    *prometheus.Registry
}

// OptionsFromConfig maps the daemon configuration onto server options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	lang, err := report.ParseLanguage(cfg.Lang)
	if err != nil {
		return Options{}, err
	}
	return Options{
		StorageDir:  cfg.StorageDir,
		Marker:      cfg.PacketMarker(),
		Score:       cfg.ScoreOptions(),
		Lang:        lang,
		MaxUploadMB: cfg.MaxUploadMB,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.Marker == (packet.Marker{}) {
		o.Marker = packet.DefaultMarker
	}
	if o.Score == (ber.Options{}) {
		o.Score = ber.DefaultOptions()
	}
	if o.Lang == "" {
		o.Lang = report.LangEnglish
	}
	if o.MaxUploadMB <= 0 {
		o.MaxUploadMB = 256
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
}
