package pathutil

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// ConfigFile is the name of the simulator config in every Location.
const ConfigFile = "skymesh-config.json"

// LocalDir is the system-wide directory of the simulator.
const LocalDir = "/usr/local/skycoin/skymesh"

// Location is a directory the config file is looked up in.
type Location string

// Config locations, in lookup order.
const (
	WorkingDir = Location("WD")
	Home       = Location("HOME")
	Local      = Location("LOCAL")
)

// Locations lists every Location in lookup order.
var Locations = []Location{WorkingDir, Home, Local}

func (l Location) String() string {
	return string(l)
}

// Set implements pflag.Value and accepts the names of Locations in any case.
func (l *Location) Set(s string) error {
	loc := Location(strings.ToUpper(s))
	for _, valid := range Locations {
		if loc == valid {
			*l = loc
			return nil
		}
	}
	return errors.Errorf("invalid location %q, valid: %v", s, Locations)
}

// Type implements pflag.Value.
func (Location) Type() string {
	return "location"
}

// Dir resolves the directory of l.
func (l Location) Dir() (string, error) {
	switch l {
	case WorkingDir:
		wd, err := os.Getwd()
		return wd, errors.Wrap(err, "working directory")
	case Home:
		return SimDir(), nil
	case Local:
		return LocalDir, nil
	default:
		return "", errors.Errorf("invalid location %q", string(l))
	}
}

// ConfigPath returns the path of ConfigFile in l.
func (l Location) ConfigPath() (string, error) {
	dir, err := l.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}

// DefaultConfigPaths returns the config path of every resolvable Location.
func DefaultConfigPaths() []string {
	var paths []string
	for _, l := range Locations {
		path, err := l.ConfigPath()
		if err != nil {
			log.WithError(err).Debugf("Skipping config location %s", l)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// FindConfigPath picks the config file: explicit if set, then the value of
// the env variable, then the first existing candidate. It returns "" when
// nothing matches.
func FindConfigPath(explicit, env string, candidates ...string) string {
	if explicit != "" {
		return explicit
	}
	if path, ok := os.LookupEnv(env); ok && env != "" {
		log.Infof("Using $%s as config path: %s", env, path)
		return path
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			log.Debugf("Config %s not usable: %s", path, err)
			continue
		}
		log.Infof("Using config %s", path)
		return path
	}
	log.Warnf("No config found in %v", candidates)
	return ""
}

// WriteJSONConfig writes conf as indented JSON to output, creating its
// directory. An existing file is only overwritten when replace is set.
func WriteJSONConfig(conf interface{}, output string, replace bool) error {
	if _, err := os.Stat(output); err == nil && !replace {
		return errors.Errorf("%s already exists", output)
	}

	raw, err := json.MarshalIndent(conf, "", "\t")
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if _, err := EnsureDir(filepath.Dir(output)); err != nil {
		return errors.Wrap(err, "config directory")
	}
	if err := ioutil.WriteFile(output, raw, 0644); err != nil {
		return errors.Wrapf(err, "write %s", output)
	}
	log.Infof("Wrote %d bytes to %s", len(raw), output)
	return nil
}
