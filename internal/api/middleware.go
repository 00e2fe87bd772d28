package api

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
)

// logRequests logs every request with its status and duration.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		if m.Code >= http.StatusInternalServerError {
			glog.Warningf("[api] %s %s %d %s", r.Method, r.URL.Path, m.Code, m.Duration)

			return
		}

		glog.V(1).Infof("[api] %s %s %d %s", r.Method, r.URL.Path, m.Code, m.Duration)
	})
}
