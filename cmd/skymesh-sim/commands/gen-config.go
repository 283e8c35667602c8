package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/skymesh/pkg/controller"
	"github.com/skycoin/skymesh/pkg/routing"
	"github.com/skycoin/skymesh/pkg/util/pathutil"
)

func init() {
	rootCmd.AddCommand(genConfigCmd)
}

var genLog = logging.MustGetLogger("gen-config")

var (
	output    string
	replace   bool
	configLoc = pathutil.WorkingDir
)

func init() {
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "", "path of output config file. Uses default of 'type' flag if unspecified.")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
	genConfigCmd.Flags().VarP(&configLoc, "type", "m", fmt.Sprintf("config location. Valid values: %v", pathutil.Locations))
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Generates a config file describing a sample network",
	PreRun: func(_ *cobra.Command, _ []string) {
		var err error
		if output == "" {
			if output, err = configLoc.ConfigPath(); err != nil {
				genLog.WithError(err).Fatalln("no default output")
			}
			genLog.Infof("No 'output' set; using default path: %s", output)
		}
		if output, err = filepath.Abs(output); err != nil {
			genLog.WithError(err).Fatalln("invalid output provided")
		}
	},
	Run: func(_ *cobra.Command, _ []string) {
		conf := defaultConfig()
		if configLoc != pathutil.WorkingDir {
			dir, err := configLoc.Dir()
			if err != nil {
				genLog.WithError(err).Fatalln("invalid config location")
			}
			conf.EventLog.Location = filepath.Join(dir, "events.db")
		}
		if err := pathutil.WriteJSONConfig(conf, output, replace); err != nil {
			genLog.WithError(err).Fatalln("failed to write config")
		}
	},
}

// defaultConfig describes two clients and two servers joined by a ring of
// four drones.
func defaultConfig() *controller.Config {
	conf := &controller.Config{Version: "1.0"}

	conf.Drones = []controller.DroneConfig{
		{ID: 1, PDR: 0.05, ConnectedNodeIDs: []routing.NodeID{2, 4, 10}},
		{ID: 2, PDR: 0.05, ConnectedNodeIDs: []routing.NodeID{1, 3, 11}},
		{ID: 3, PDR: 0.05, ConnectedNodeIDs: []routing.NodeID{2, 4, 20}},
		{ID: 4, PDR: 0.05, ConnectedNodeIDs: []routing.NodeID{3, 1, 21}},
	}
	conf.Clients = []controller.ClientConfig{
		{ID: 10, ConnectedDroneIDs: []routing.NodeID{1}},
		{ID: 11, ConnectedDroneIDs: []routing.NodeID{2}},
	}
	conf.Servers = []controller.ServerConfig{
		{ID: 20, ServerType: routing.ChatServer, ConnectedDroneIDs: []routing.NodeID{3}},
		{ID: 21, ServerType: routing.TextServer, ConnectedDroneIDs: []routing.NodeID{4}},
	}

	conf.Routing.MaxRetries = 16
	conf.Routing.DiscoveryTimeout = controller.Duration(5 * time.Second)

	conf.EventLog.Type = "boltdb"
	conf.EventLog.Location = "./skymesh/events.db"

	conf.Interfaces.HTTPAddress = "localhost:8080"
	conf.LogLevel = "info"
	conf.ShutdownTimeout = controller.Duration(10 * time.Second)
	return conf
}
