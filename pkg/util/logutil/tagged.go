// Package logutil builds the master loggers used by the simulator binaries.
package logutil

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"
)

// Sub replaces Old with New in every formatted record.
type Sub struct {
	Old, New string
}

// TaggedFormatter prepends a tag to log records and substitutes text.
type TaggedFormatter struct {
	tag  []byte
	subs [][2][]byte
	*logging.TextFormatter
}

// Format executes formatting of TaggedFormatter
func (tf *TaggedFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data, err := tf.TextFormatter.Format(entry)
	for _, sub := range tf.subs {
		data = bytes.ReplaceAll(data, sub[0], sub[1])
	}
	return bytes.Join([][]byte{tf.tag, data}, []byte(" ")), err
}

// NewTaggedFormatter creates a TaggedFormatter over the skycoin text format.
func NewTaggedFormatter(tag string, subs ...Sub) *TaggedFormatter {
	bsubs := make([][2][]byte, len(subs))
	for i, s := range subs {
		bsubs[i] = [2][]byte{[]byte(s.Old), []byte(s.New)}
	}
	return &TaggedFormatter{
		tag:  []byte(tag),
		subs: bsubs,
		TextFormatter: &logging.TextFormatter{
			AlwaysQuoteStrings: true,
			QuoteEmptyFields:   true,
			FullTimestamp:      true,
			ForceFormatting:    true,
			TimestampFormat:    time.StampMicro,
		},
	}
}

// NewTaggedMasterLogger creates MasterLogger that prepends records with tag
func NewTaggedMasterLogger(tag string, subs ...Sub) *logging.MasterLogger {
	return &logging.MasterLogger{
		Logger: &logrus.Logger{
			Out:       os.Stdout,
			Formatter: NewTaggedFormatter(tag, subs...),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
}
