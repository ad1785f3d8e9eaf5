package raftpeer

import (
	"fmt"
	"log/slog"
	"os"
)

// raftLogger bridges etcd raft's logger interface onto slog.
type raftLogger struct {
	l *slog.Logger
}

func newRaftLogger(tabletID string) *raftLogger {
	return &raftLogger{l: slog.Default().With("tablet", tabletID).WithGroup("raft")}
}

func (l *raftLogger) Debug(v ...interface{})   { l.l.Debug(fmt.Sprint(v...)) }
func (l *raftLogger) Info(v ...interface{})    { l.l.Info(fmt.Sprint(v...)) }
func (l *raftLogger) Warning(v ...interface{}) { l.l.Warn(fmt.Sprint(v...)) }
func (l *raftLogger) Error(v ...interface{})   { l.l.Error(fmt.Sprint(v...)) }

func (l *raftLogger) Fatal(v ...interface{}) {
	l.l.Error(fmt.Sprint(v...))
	os.Exit(1)
}

func (l *raftLogger) Panic(v ...interface{}) {
	l.l.Error(fmt.Sprint(v...))
	panic(fmt.Sprint(v...))
}

func (l *raftLogger) Debugf(format string, v ...interface{})   { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l *raftLogger) Infof(format string, v ...interface{})    { l.l.Info(fmt.Sprintf(format, v...)) }
func (l *raftLogger) Warningf(format string, v ...interface{}) { l.l.Warn(fmt.Sprintf(format, v...)) }
func (l *raftLogger) Errorf(format string, v ...interface{})   { l.l.Error(fmt.Sprintf(format, v...)) }

func (l *raftLogger) Fatalf(format string, v ...interface{}) {
	l.l.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *raftLogger) Panicf(format string, v ...interface{}) {
	l.l.Error(fmt.Sprintf(format, v...))
	panic(fmt.Sprintf(format, v...))
}
