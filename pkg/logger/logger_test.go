package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
)

func TestNewLogger(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.LogConfig
		wantErr bool
		level   zapcore.Level
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, false, zapcore.InfoLevel},
		{"console debug", config.LogConfig{Level: "debug", Format: "console"}, false, zapcore.DebugLevel},
		{"default format", config.LogConfig{Level: "warn"}, false, zapcore.WarnLevel},
		{"bad level", config.LogConfig{Level: "loud", Format: "json"}, true, 0},
		{"bad format", config.LogConfig{Level: "info", Format: "xml"}, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLogger(&tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("期望返回错误")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger 应成功: %v", err)
			}
			if !l.Core().Enabled(tc.level) {
				t.Errorf("级别 %s 应启用", tc.level)
			}
			if tc.level > zapcore.DebugLevel && l.Core().Enabled(tc.level-1) {
				t.Errorf("级别 %s 不应启用", tc.level-1)
			}
		})
	}
}
