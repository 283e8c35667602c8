package logutil

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestTaggedMasterLogger(t *testing.T) {
	var buf bytes.Buffer
	ml := NewTaggedMasterLogger("[sim]", Sub{Old: "drone:", New: "d"})
	ml.Out = &buf

	ml.PackageLogger("drone:11").Info("forwarded")
	out := buf.String()
	assert.Contains(t, out, "[sim] ")
	assert.Contains(t, out, "d11")
	assert.Contains(t, out, "forwarded")

	buf.Reset()
	ml.PackageLogger("x").Debug("hidden")
	assert.Empty(t, buf.String())

	ml.SetLevel(logrus.DebugLevel)
	ml.PackageLogger("x").Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
