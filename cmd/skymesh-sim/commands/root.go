package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"log/syslog"
	"net"
	"net/http"
	_ "net/http/pprof" // no_lint
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/skymesh/pkg/controller"
	"github.com/skycoin/skymesh/pkg/util/logutil"
	"github.com/skycoin/skymesh/pkg/util/pathutil"
)

const configEnv = "SKYMESH_CONFIG"

// Version of the simulator.
const Version = "0.1.0"

type runCfg struct {
	syslogAddr   string
	tag          string
	cfgFromStdin bool
	profileMode  string
	port         string
	args         []string

	profileStop  func()
	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         *controller.Config
	ctrl         *controller.Controller
	srv          *http.Server
}

var cfg *runCfg

var rootCmd = &cobra.Command{
	Use:   "skymesh-sim [config-path]",
	Short: "Simulates a network of drones, clients and servers",
	Run: func(_ *cobra.Command, args []string) {
		cfg.args = args

		cfg.startProfiler().
			startLogger().
			readConfig().
			runController().
			waitOsSignals().
			stopController()
	},
	Version: Version,
}

func init() {
	cfg = &runCfg{}
	rootCmd.Flags().StringVarP(&cfg.syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	rootCmd.Flags().StringVarP(&cfg.tag, "tag", "", "skymesh", "logging tag")
	rootCmd.Flags().BoolVarP(&cfg.cfgFromStdin, "stdin", "i", false, "read config from STDIN")
	rootCmd.Flags().StringVarP(&cfg.profileMode, "profile", "p", "none", "enable profiling with pprof. Mode:  none or one of: [cpu, mem, mutex, block, trace, http]")
	rootCmd.Flags().StringVarP(&cfg.port, "port", "", "6060", "port for http-mode of pprof")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func (cfg *runCfg) startProfiler() *runCfg {
	var option func(*profile.Profile)
	switch cfg.profileMode {
	case "none":
		cfg.profileStop = func() {}
		return cfg
	case "http":
		go func() {
			log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%v", cfg.port), nil))
		}()
		cfg.profileStop = func() {}
		return cfg
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfile
	case "mutex":
		option = profile.MutexProfile
	case "block":
		option = profile.BlockProfile
	case "trace":
		option = profile.TraceProfile
	default:
		log.Fatalf("Unknown profile mode %q", cfg.profileMode)
	}
	cfg.profileStop = profile.Start(profile.ProfilePath("./logs/"+cfg.tag), option).Stop
	return cfg
}

func (cfg *runCfg) startLogger() *runCfg {
	cfg.masterLogger = logutil.NewTaggedMasterLogger("[" + cfg.tag + "]")
	cfg.logger = cfg.masterLogger.PackageLogger(cfg.tag)

	if cfg.syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", cfg.syslogAddr, syslog.LOG_INFO, cfg.tag)
		if err != nil {
			cfg.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			cfg.masterLogger.AddHook(hook)
			cfg.masterLogger.Out = ioutil.Discard
		}
	}
	return cfg
}

func (cfg *runCfg) readConfig() *runCfg {
	var rdr io.Reader
	if !cfg.cfgFromStdin {
		var explicit string
		if len(cfg.args) > 0 {
			explicit = cfg.args[0]
		}
		configPath := pathutil.FindConfigPath(explicit, configEnv, pathutil.DefaultConfigPaths()...)
		if configPath == "" {
			cfg.logger.Fatal("No config found, generate one with 'skymesh-sim gen-config'")
		}
		f, err := os.Open(configPath) // nolint: gosec
		if err != nil {
			cfg.logger.Fatalf("Failed to open config: %s", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				cfg.logger.WithError(err).Warn("Failed to close config")
			}
		}()
		rdr = f
	} else {
		cfg.logger.Info("Reading config from STDIN")
		rdr = bufio.NewReader(os.Stdin)
	}

	conf, err := controller.ReadConfig(rdr)
	if err != nil {
		cfg.logger.Fatalf("Failed to read config: %s", err)
	}
	cfg.conf = conf
	return cfg
}

func (cfg *runCfg) runController() *runCfg {
	ctrl, err := controller.New(cfg.conf, cfg.masterLogger)
	if err != nil {
		cfg.logger.Fatal("Failed to initialize controller: ", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		cfg.logger.Fatal("Failed to start controller: ", err)
	}
	cfg.ctrl = ctrl

	if addr := cfg.conf.Interfaces.HTTPAddress; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			cfg.logger.Fatalf("Failed to listen on %s: %s", addr, err)
		}
		cfg.srv = &http.Server{Handler: ctrl.HTTPHandler()}
		cfg.logger.Infof("Serving HTTP API on %s", l.Addr())
		go func() {
			if err := cfg.srv.Serve(l); err != nil && err != http.ErrServerClosed {
				cfg.logger.Fatal("HTTP API stopped: ", err)
			}
		}()
	}
	return cfg
}

func (cfg *runCfg) stopController() *runCfg {
	defer cfg.profileStop()
	if cfg.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.conf.ShutdownGrace())
		defer cancel()
		if err := cfg.srv.Shutdown(ctx); err != nil {
			cfg.logger.WithError(err).Warn("Failed to shut down HTTP API")
		}
	}
	if err := cfg.ctrl.Close(); err != nil {
		cfg.logger.Fatal("Failed to close controller: ", err)
	}
	return cfg
}

func (cfg *runCfg) waitOsSignals() *runCfg {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
	<-ch
	go func() {
		select {
		case <-time.After(2 * cfg.conf.ShutdownGrace()):
			cfg.logger.Fatal("Timeout reached: terminating")
		case s := <-ch:
			cfg.logger.Fatalf("Received signal %s: terminating", s)
		}
	}()
	return cfg
}
