// Copyright 2018-2020 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Command tusupload is a reference CLI for the upload driver in
// github.com/h3knix/tusclient/pkg/tusclient: it gives the library a runnable
// home, the way cmd/revad gives reva's service packages one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/h3knix/tusclient/pkg/appctx"
	"github.com/h3knix/tusclient/pkg/log"
	"github.com/h3knix/tusclient/pkg/tusclient"
	"github.com/h3knix/tusclient/pkg/tusclient/source"
	"github.com/h3knix/tusclient/pkg/tusclient/store"
	"github.com/h3knix/tusclient/pkg/tusclient/store/sqlite"
	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

var (
	cfgFile string
	v       = viper.New()
)

func init() {
	v.SetEnvPrefix("tusupload")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tusupload:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tusupload <file>",
		Short:         "Upload a file to a resumable-upload server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runUpload,
	}

	flags := cmd.Flags()
	flags.String("endpoint", "", "creation endpoint URL")
	flags.String("upload-url", "", "existing resource URL to resume, skips creation")
	flags.Int64("chunk-size", 0, "bytes per request; 0 means send the whole remainder in one request")
	flags.Int("parallel", 1, "number of concurrent parts (server must support Upload-Concat)")
	flags.StringToString("metadata", nil, "key=value metadata pairs attached to the upload")
	flags.StringSlice("retry-delays", []string{"500ms", "1s", "3s", "5s"}, "retry backoff schedule")
	flags.String("protocol", "v1", `wire dialect: "v1" or "draft"`)
	flags.String("store", "", "sqlite file to persist the upload URL for resumption; empty disables persistence")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.Bool("defer-length", false, "announce the total size on the final chunk instead of at creation")
	flags.Duration("timeout", 30*time.Second, "per-request timeout")
	flags.String("log-mode", "dev", `"dev" or empty for console output, anything else for JSON`)
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file overriding defaults")
	cobra.OnInitialize(func() {
		if cfgFile == "" {
			return
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "tusupload: reading config:", err)
			os.Exit(1)
		}
	})

	return cmd
}

// uploadConfig mirrors the flag set for mapstructure.Decode, the same way
// cmd/revad decodes its raw config map into a typed struct before wiring up
// services, instead of reading keys one at a time off of viper.
type uploadConfig struct {
	Endpoint     string            `mapstructure:"endpoint"`
	UploadURL    string            `mapstructure:"upload-url"`
	ChunkSize    int64             `mapstructure:"chunk-size"`
	Parallel     int               `mapstructure:"parallel"`
	Metadata     map[string]string `mapstructure:"metadata"`
	RetryDelays  []string          `mapstructure:"retry-delays"`
	Protocol     string            `mapstructure:"protocol"`
	Store        string            `mapstructure:"store"`
	Insecure     bool              `mapstructure:"insecure"`
	DeferLength  bool              `mapstructure:"defer-length"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	LogMode      string            `mapstructure:"log-mode"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	var conf uploadConfig
	if err := mapstructure.Decode(v.AllSettings(), &conf); err != nil {
		return fmt.Errorf("decoding configuration: %w", err)
	}

	log.Mode = conf.LogMode
	logger := log.New("tusupload")
	ctx := appctx.WithLogger(context.Background(), &logger)

	path := args[0]
	src, err := source.OpenFile(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	protocol := tusclient.ProtocolV1
	if strings.EqualFold(conf.Protocol, "draft") {
		protocol = tusclient.ProtocolDraft
	}

	chunkSize := tusclient.ChunkSizeUnbounded
	if conf.ChunkSize > 0 {
		chunkSize = conf.ChunkSize
	}

	delays, err := parseDelays(conf.RetryDelays)
	if err != nil {
		return err
	}

	tr := transport.New(
		transport.WithTimeout(conf.Timeout),
		transport.WithInsecureSkipVerify(conf.Insecure),
	)

	opts := []tusclient.Option{
		tusclient.WithTransport(tr),
		tusclient.WithProtocol(protocol),
		tusclient.WithChunkSize(chunkSize),
		tusclient.WithRetryDelays(delays...),
		tusclient.WithParallelUploads(conf.Parallel),
		tusclient.WithUploadLengthDeferred(conf.DeferLength),
		tusclient.WithRequestID(true),
	}
	if len(conf.Metadata) > 0 {
		opts = append(opts, tusclient.WithMetadata(conf.Metadata))
	}
	if conf.Endpoint != "" {
		opts = append(opts, tusclient.WithEndpoint(conf.Endpoint))
	}
	if conf.UploadURL != "" {
		opts = append(opts, tusclient.WithUploadURL(conf.UploadURL))
	}

	var st store.Store
	if conf.Store != "" {
		st, err = sqlite.Open(conf.Store)
		if err != nil {
			return fmt.Errorf("opening store %s: %w", conf.Store, err)
		}
		opts = append(opts, tusclient.WithStore(st), tusclient.WithStoreFingerprint(true), tusclient.WithRemoveFingerprintOnSuccess(true))
	}

	opts = append(opts, tusclient.WithCallbacks(progressCallbacks(&logger)))

	driver, err := tusclient.NewDriver(src, opts...)
	if err != nil {
		return err
	}

	if st != nil {
		if entries, err := driver.FindPreviousUploads(ctx); err == nil && len(entries) > 0 {
			logger.Info().Str("url", entries[0].Record.UploadURL).Msg("resuming a previous upload")
			driver.ResumeFromPreviousUpload(entries[0])
		}
	}

	ctx = appctx.WithTrace(ctx, uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Warn().Msg("interrupted, aborting upload")
		_ = driver.Abort(ctx, false)
		cancel()
	}()

	if err := driver.Start(ctx); err != nil {
		return err
	}
	fmt.Println(driver.URL())
	return nil
}

func progressCallbacks(logger *zerolog.Logger) tusclient.Callbacks {
	return tusclient.Callbacks{
		OnUploadURLAvailable: func() {},
		OnProgress: func(sent, total int64) {
			if total == tusclient.SizeUnknown {
				fmt.Fprintf(os.Stderr, "\r%d bytes sent", sent)
				return
			}
			fmt.Fprintf(os.Stderr, "\r%d/%d bytes sent (%.1f%%)", sent, total, 100*float64(sent)/float64(total))
		},
		OnSuccess: func() {
			fmt.Fprintln(os.Stderr)
			logger.Info().Msg("upload complete")
		},
		OnError: func(err error) {
			fmt.Fprintln(os.Stderr)
			logger.Error().Err(err).Msg("upload failed")
		},
	}
}

func parseDelays(raw []string) ([]time.Duration, error) {
	delays := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid retry delay %q: %w", s, err)
		}
		delays = append(delays, d)
	}
	return delays, nil
}
