package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestLevelFiltering(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)

	logger.Debugw("damping", "mu", 1e-3)
	logger.Infof("iteration %d", 3)
	test.That(t, observed.Len(), test.ShouldEqual, 2)

	logger.SetLevel(WARN)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Errorw("shown", "reason", "diverged")
	test.That(t, observed.Len(), test.ShouldEqual, 4)

	entries := observed.All()
	test.That(t, entries[0].Message, test.ShouldEqual, "damping")
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, entries[0].ContextMap()["mu"], test.ShouldAlmostEqual, 1e-3)
	test.That(t, entries[1].Message, test.ShouldEqual, "iteration 3")
	test.That(t, entries[3].Level, test.ShouldEqual, zapcore.ErrorLevel)
	test.That(t, entries[3].ContextMap()["reason"], test.ShouldEqual, "diverged")
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("lm")
	subsub := sub.Sublogger("schur")

	subsub.Info("solved")
	test.That(t, observed.Len(), test.ShouldEqual, 1)
	test.That(t, observed.All()[0].LoggerName, test.ShouldEqual, "lm.schur")

	// Levels are copied, not shared.
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, subsub.GetLevel(), test.ShouldEqual, DEBUG)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "verbose")
}

func TestLevelJSON(t *testing.T) {
	data, err := WARN.MarshalJSON()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, `"warn"`)

	var level Level
	test.That(t, level.UnmarshalJSON([]byte(`"error"`)), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, ERROR)
	test.That(t, level.UnmarshalJSON([]byte(`3`)), test.ShouldNotBeNil)
}

func TestFromZapCompatible(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	test.That(t, FromZapCompatible(logger), test.ShouldEqual, logger)

	upconverted := FromZapCompatible(logger.AsZap())
	upconverted.Info("through zap")
	test.That(t, observed.Len(), test.ShouldEqual, 1)
	test.That(t, FromZapCompatible(nil), test.ShouldBeNil)
}
