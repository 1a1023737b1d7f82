package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/bnema/waveshift/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigShowCommand())
	configCmd.AddCommand(newConfigValidateCommand())

	return configCmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := toml.Marshal(newConfigView(cfg))
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration is complete enough to serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}

// configView mirrors config.Config for display. Durations are rendered as
// Go duration strings so the output reads like the environment it came from.
type configView struct {
	Server    serverView    `toml:"server"`
	Auth      authView      `toml:"auth"`
	S3        s3View        `toml:"s3"`
	Upload    uploadView    `toml:"upload"`
	Pipeline  pipelineView  `toml:"pipeline"`
	Lifecycle lifecycleView `toml:"lifecycle"`
}

type serverView struct {
	Port        int    `toml:"port"`
	PublicURL   string `toml:"public_url"`
	DataDir     string `toml:"data_dir"`
	StoreDriver string `toml:"store_driver"`
	LogLevel    string `toml:"log_level"`
	BehindProxy bool   `toml:"behind_proxy"`
}

type authView struct {
	AuthSecret     string `toml:"auth_secret"`
	TokenTTL       string `toml:"token_ttl"`
	CallbackSecret string `toml:"callback_secret"`
}

type s3View struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

type uploadView struct {
	PartSizeMB     int    `toml:"part_size_mb"`
	MaxSizeMB      int    `toml:"max_size_mb"`
	PartURLTTL     string `toml:"part_url_ttl"`
	DownloadURLTTL string `toml:"download_url_ttl"`
}

type pipelineView struct {
	SeparationURL    string `toml:"separation_url"`
	TranscriptionURL string `toml:"transcription_url"`
	SynthesisURL     string `toml:"synthesis_url"`
	DispatchTimeout  string `toml:"dispatch_timeout"`
	CallbackURL      string `toml:"callback_url"`
}

type lifecycleView struct {
	StreamInterval   string `toml:"stream_interval"`
	StaleTaskTimeout string `toml:"stale_task_timeout"`
	ReaperInterval   string `toml:"reaper_interval"`
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func newConfigView(cfg *config.Config) configView {
	return configView{
		Server: serverView{
			Port:        cfg.Port,
			PublicURL:   cfg.PublicURL,
			DataDir:     cfg.DataDir,
			StoreDriver: cfg.StoreDriver,
			LogLevel:    cfg.LogLevel,
			BehindProxy: cfg.BehindProxy,
		},
		Auth: authView{
			AuthSecret:     redact(cfg.AuthSecret),
			TokenTTL:       cfg.TokenTTL.String(),
			CallbackSecret: redact(cfg.CallbackSecret),
		},
		S3: s3View{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: redact(cfg.S3.SecretAccessKey),
		},
		Upload: uploadView{
			PartSizeMB:     cfg.UploadPartSizeMB,
			MaxSizeMB:      cfg.MaxUploadSizeMB,
			PartURLTTL:     cfg.PartURLTTL.String(),
			DownloadURLTTL: cfg.DownloadURLTTL.String(),
		},
		Pipeline: pipelineView{
			SeparationURL:    cfg.SeparationURL,
			TranscriptionURL: cfg.TranscriptionURL,
			SynthesisURL:     cfg.SynthesisURL,
			DispatchTimeout:  cfg.DispatchTimeout.String(),
			CallbackURL:      cfg.CallbackURL(),
		},
		Lifecycle: lifecycleView{
			StreamInterval:   cfg.StreamInterval.String(),
			StaleTaskTimeout: cfg.StaleTaskTimeout.String(),
			ReaperInterval:   cfg.ReaperInterval.String(),
		},
	}
}
