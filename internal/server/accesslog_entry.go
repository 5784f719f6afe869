package server

import (
	"time"

	"github.com/cm4all/bengproxy/internal/accesslog"
)

func accessLogEntry(remoteAddr, uri string, status int, d time.Duration, sessionID string) accesslog.Entry {
	return accesslog.Entry{
		Time:       time.Now(),
		RemoteAddr: remoteAddr,
		Method:     "GET",
		URI:        uri,
		Status:     status,
		Duration:   d,
		SessionID:  sessionID,
	}
}
