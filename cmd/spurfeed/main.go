// Copyright (c) 2024 Spur Intelligence Corp and contributors, All rights reserved.
//
// This file is part of Spurfeed.
//
// Spurfeed is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Spurfeed is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Spurfeed. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"time"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"

	"github.com/spurintel/spurfeed/internal/pkg/shared/apm"
	"github.com/spurintel/spurfeed/internal/pkg/shared/fs"
	"github.com/spurintel/spurfeed/internal/pkg/shared/pprof"
	"github.com/spurintel/spurfeed/internal/pkg/shared/proxy"
	"github.com/spurintel/spurfeed/internal/pkg/shared/secret"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/checkpoint"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/geodb"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/ingest"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/lockmgr"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/sink"
	"github.com/spurintel/spurfeed/pkg/enrich"

	_ "github.com/spurintel/spurfeed/internal/pkg/plugin/contextapi"
	_ "github.com/spurintel/spurfeed/internal/pkg/plugin/iplocation"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const progName = "spurfeed"

var version string
var buildTime string

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(geoUpdateCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.PersistentFlags().Bool("dev", false, "Enable development environment specific setting")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug messages for tracing and troubleshooting")
	rootCmd.PersistentFlags().String("feedURL", feed.DefaultBaseURL, "Base URL of the Spur feed service")
	rootCmd.PersistentFlags().String("tokenFile", "", "File containing the Spur API token, overrides the "+secret.DefaultTokenVar+" env variable")
	rootCmd.PersistentFlags().String("httpProxy", "", "HTTP proxy URL, falls back to HTTP_PROXY env variable")
	rootCmd.PersistentFlags().String("httpsProxy", "", "HTTPS proxy URL, falls back to HTTPS_PROXY env variable")
	ingestCmd.Flags().StringP("feed", "f", string(feed.Anonymous), "Feed type to ingest")
	ingestCmd.Flags().StringP("dir", "d", "", "Data directory for checkpoints, locks, and the file sink. Defaults to <installdir>/data")
	ingestCmd.Flags().StringP("sink", "s", "file", "Event sink to deliver to, can be set to file or elasticsearch")
	ingestCmd.Flags().String("sinkFile", "", "Path of the file sink spool. Defaults to <dir>/spool/events.json")
	ingestCmd.Flags().String("esURL", "http://elasticsearch:9200", "Elasticsearch URL for the elasticsearch sink")
	ingestCmd.Flags().String("esIndex", "spur-feeds", "Elasticsearch index for the elasticsearch sink")
	ingestCmd.Flags().String("input", "spur", "Input name stamped on emitted events")
	ingestCmd.Flags().String("sourcetype", "spur_feed", "Sourcetype stamped on emitted events")
	ingestCmd.Flags().Bool("predownload", false, "Fully download the release payload before processing instead of streaming it")
	ingestCmd.Flags().IntP("checkpointInterval", "c", ingest.DefaultCheckpointInterval, "Number of delivered records between checkpoint writes")
	ingestCmd.Flags().IntP("lockMaxAgeHours", "l", 24, "Hours before a leftover lock from a crashed run is reclaimed")
	ingestCmd.Flags().Bool("apm", false, "Enable elastic APM instrumentation")
	ingestCmd.Flags().String("pprof", "", "Enable go profiler, one of cpu, memory, mutex, or block")
	geoUpdateCmd.Flags().String("mmdbPath", "", "Path of the local geolocation database. Defaults to <installdir>/data/mmdb/ipgeo.mmdb")
	geoUpdateCmd.Flags().Bool("force", false, "Update even when the local database is fresh")
	enrichCmd.Flags().StringP("provider", "p", "SpurContext", "Enrichment provider, can be set to SpurContext or SpurIPLocation")
	enrichCmd.Flags().String("fields", "", "Comma-separated location fields to include, empty means all")
	enrichCmd.Flags().String("apiURL", "https://api.spur.us/v2/context", "Base URL of the Spur Context-API")
	enrichCmd.Flags().Int("cacheDuration", 10, "Cache expiration time in minutes for Context-API query results")
	enrichCmd.Flags().IntP("maxQPS", "e", 10, "Max. number of Context-API queries/second")
	enrichCmd.Flags().IntP("minQPS", "i", 1, "Min. queries/second rate used when throttling on low balance")
	enrichCmd.Flags().Int("lowBalanceThreshold", 1000, "Remaining query balance below which a warning is raised")
	enrichCmd.Flags().Bool("skipPrivateIP", false, "Skip Context-API lookups for private addresses")
	viper.BindPFlag("dev", rootCmd.PersistentFlags().Lookup("dev"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("feedURL", rootCmd.PersistentFlags().Lookup("feedURL"))
	viper.BindPFlag("tokenFile", rootCmd.PersistentFlags().Lookup("tokenFile"))
	viper.BindPFlag("httpProxy", rootCmd.PersistentFlags().Lookup("httpProxy"))
	viper.BindPFlag("httpsProxy", rootCmd.PersistentFlags().Lookup("httpsProxy"))
	viper.BindPFlag("feed", ingestCmd.Flags().Lookup("feed"))
	viper.BindPFlag("dir", ingestCmd.Flags().Lookup("dir"))
	viper.BindPFlag("sink", ingestCmd.Flags().Lookup("sink"))
	viper.BindPFlag("sinkFile", ingestCmd.Flags().Lookup("sinkFile"))
	viper.BindPFlag("esURL", ingestCmd.Flags().Lookup("esURL"))
	viper.BindPFlag("esIndex", ingestCmd.Flags().Lookup("esIndex"))
	viper.BindPFlag("input", ingestCmd.Flags().Lookup("input"))
	viper.BindPFlag("sourcetype", ingestCmd.Flags().Lookup("sourcetype"))
	viper.BindPFlag("predownload", ingestCmd.Flags().Lookup("predownload"))
	viper.BindPFlag("checkpointInterval", ingestCmd.Flags().Lookup("checkpointInterval"))
	viper.BindPFlag("lockMaxAgeHours", ingestCmd.Flags().Lookup("lockMaxAgeHours"))
	viper.BindPFlag("apm", ingestCmd.Flags().Lookup("apm"))
	viper.BindPFlag("pprof", ingestCmd.Flags().Lookup("pprof"))
	viper.BindPFlag("mmdbPath", geoUpdateCmd.Flags().Lookup("mmdbPath"))
	viper.BindPFlag("force", geoUpdateCmd.Flags().Lookup("force"))
	viper.BindPFlag("provider", enrichCmd.Flags().Lookup("provider"))
	viper.BindPFlag("fields", enrichCmd.Flags().Lookup("fields"))
	viper.BindPFlag("apiURL", enrichCmd.Flags().Lookup("apiURL"))
	viper.BindPFlag("cacheDuration", enrichCmd.Flags().Lookup("cacheDuration"))
	viper.BindPFlag("maxQPS", enrichCmd.Flags().Lookup("maxQPS"))
	viper.BindPFlag("minQPS", enrichCmd.Flags().Lookup("minQPS"))
	viper.BindPFlag("lowBalanceThreshold", enrichCmd.Flags().Lookup("lowBalanceThreshold"))
	viper.BindPFlag("skipPrivateIP", enrichCmd.Flags().Lookup("skipPrivateIP"))
}

func initConfig() {
	viper.SetEnvPrefix(progName)
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exit("Error returned from command", err)
	}
}

func exit(msg string, err error) {
	fmt.Println(msg+":", err)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:   "spurfeed",
	Short: "Spur feed ingestion and enrichment toolkit",
	Long: `
Spurfeed ingests Spur bulk IP-intelligence feeds into a host log platform
with resumable, crash-safe semantics, and enriches individual records with
Spur Context-API and IP-geolocation data.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build information",
	Long:  `Print the version and build information`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version, buildTime)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a Spur feed into the event sink",
	Long: `
Ingest the current release of a Spur feed into the configured event sink.

Runs are serialized per feed type with a file lock, so overlapping schedules
across processes are safe: a run that finds the lock held skips cleanly.
Progress is checkpointed per release, letting an interrupted run resume
where it stopped, and a release already ingested today is skipped entirely.`,

	Run: func(cmd *cobra.Command, args []string) {
		log.Setup(viper.GetBool("debug"))

		if p := viper.GetString("pprof"); p != "" {
			prof, err := pprof.GetProfiler(p)
			if err != nil {
				exit("Cannot start profiler", err)
			}
			defer prof.Stop()
		}
		apm.Enable(viper.GetBool("apm"))

		feedType := feed.Type(viper.GetString("feed"))
		if !feedType.Valid() || feedType.Binary() {
			exit("Incorrect feed setting", errors.New(
				"feed must be one of anonymous, anonymous-ipv6, anonymous-residential, "+
					"anonymous-residential-ipv6, or anonymous-residential/realtime"))
		}

		dataDir := getDataDir()
		evtSink, err := buildSink(dataDir)
		if err != nil {
			exit("Cannot initialize event sink", err)
		}
		defer evtSink.Close()

		orch := ingest.Orchestrator{
			Client:             newFeedClient(),
			Checkpoints:        checkpoint.Store{Dir: path.Join(dataDir, "checkpoints"), Enabled: true},
			Locks:              newLockManager(dataDir),
			Sink:               evtSink,
			Input:              viper.GetString("input"),
			SourceType:         viper.GetString("sourcetype"),
			Predownload:        viper.GetBool("predownload"),
			CheckpointInterval: viper.GetInt("checkpointInterval"),
		}

		log.Info(log.M{Msg: "Starting " + progName + " " + version + " ingestion", Feed: string(feedType)})
		if err := orch.Run(interruptibleContext(), feedType); err != nil {
			exit("Feed ingestion failed", err)
		}
	},
}

var geoUpdateCmd = &cobra.Command{
	Use:   "geoupdate",
	Short: "Update the local IP-geolocation database",
	Long: `
Download the latest Spur ipgeo release and atomically swap it into place.

By default the update is skipped while the local database is younger than
7 days; use --force to replace it regardless.`,

	Run: func(cmd *cobra.Command, args []string) {
		log.Setup(viper.GetBool("debug"))

		u := geodb.Updater{
			Client: newFeedClient(),
			Locks:  newLockManager(getDataDir()),
			Path:   getMMDBPath(),
		}
		var err error
		if viper.GetBool("force") {
			err = u.Update()
		} else {
			err = u.Refresh()
		}
		if err != nil {
			exit("Cannot update geo database", err)
		}
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich [ip ...]",
	Short: "Enrich IP addresses through a registered provider",
	Long: `
Look up one or more IP addresses through a registered enrichment provider
and print the resulting spur_* fields as JSON, one object per address.

SpurContext queries the Spur Context-API; SpurIPLocation reads the local
geolocation database, refreshing it first when missing or stale.`,
	Args: cobra.MinimumNArgs(1),

	Run: func(cmd *cobra.Command, args []string) {
		log.Setup(viper.GetBool("debug"))

		name := viper.GetString("provider")
		e := enrich.Enrichers.Lookup(name)
		if e == nil {
			exit("Incorrect provider setting", errors.New(name+" is not a registered provider"))
		}
		cfg, err := buildProviderConfig(name)
		if err != nil {
			exit("Cannot configure provider "+name, err)
		}
		if err := e.Initialize(cfg); err != nil {
			exit("Cannot initialize provider "+name, err)
		}

		ctx := interruptibleContext()
		for _, term := range args {
			fields, err := e.Lookup(ctx, term)
			if err != nil {
				exit("Cannot enrich "+term, err)
			}
			out, err := json.MarshalIndent(fields, "", "  ")
			if err != nil {
				exit("Cannot marshal enrichment result", err)
			}
			fmt.Println(string(out))
		}
	},
}

func buildProviderConfig(name string) ([]byte, error) {
	switch name {
	case "SpurContext":
		token, err := tokenStore().Token()
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"url":                    viper.GetString("apiURL"),
			"token":                  token,
			"cache_duration_minutes": viper.GetInt("cacheDuration"),
			"max_queries_per_sec":    viper.GetInt("maxQPS"),
			"min_queries_per_sec":    viper.GetInt("minQPS"),
			"low_balance_threshold":  viper.GetInt("lowBalanceThreshold"),
			"skip_private_ip":        viper.GetBool("skipPrivateIP"),
		})
	case "SpurIPLocation":
		// make sure the local database is usable before the provider opens it
		u := geodb.Updater{
			Client: newFeedClient(),
			Locks:  newLockManager(getDataDir()),
			Path:   getMMDBPath(),
		}
		if err := u.Refresh(); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"db_path": u.Path,
			"fields":  viper.GetString("fields"),
		})
	}
	return json.Marshal(map[string]interface{}{})
}

func newFeedClient() *feed.Client {
	token, err := tokenStore().Token()
	if err != nil {
		exit("Cannot retrieve API token", err)
	}
	ps := proxy.Discover(viper.GetString("httpProxy"), viper.GetString("httpsProxy"))
	return feed.NewClient(viper.GetString("feedURL"), token, ps.Transport())
}

func newLockManager(dataDir string) lockmgr.Manager {
	return lockmgr.Manager{
		Dir:    path.Join(dataDir, "locks"),
		MaxAge: time.Duration(viper.GetInt("lockMaxAgeHours")) * time.Hour,
	}
}

func tokenStore() secret.Store {
	if f := viper.GetString("tokenFile"); f != "" {
		return secret.FileStore{Path: f}
	}
	return secret.EnvStore{Var: secret.DefaultTokenVar}
}

func getDataDir() string {
	if d := viper.GetString("dir"); d != "" {
		return d
	}
	d, err := fs.GetDir(viper.GetBool("dev"))
	if err != nil {
		exit("Cannot get current directory??", err)
	}
	return path.Join(d, "data")
}

func getMMDBPath() string {
	if p := viper.GetString("mmdbPath"); p != "" {
		return p
	}
	return path.Join(getDataDir(), "mmdb", "ipgeo.mmdb")
}

func buildSink(dataDir string) (sink.Writer, error) {
	switch viper.GetString("sink") {
	case "file":
		p := viper.GetString("sinkFile")
		if p == "" {
			p = path.Join(dataDir, "spool", "events.json")
		}
		return sink.NewFileSink(p)
	case "elasticsearch":
		return sink.NewES7Sink(viper.GetString("esURL"), viper.GetString("esIndex"))
	}
	return nil, errors.New("sink must be file or elasticsearch")
}

func interruptibleContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
