package main

import (
	"fmt"
	"strings"
)

const (
	roleAll       = "all"
	roleAPI       = "api"
	roleWorker    = "worker"
	roleScheduler = "scheduler"
)

// roles says which long-running components this process hosts.
type roles struct {
	API       bool
	Worker    bool
	Scheduler bool
}

// parseRoles accepts a single role or a comma-separated list, e.g.
// "api,scheduler".
func parseRoles(s string) (roles, error) {
	var r roles
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case roleAll:
			r = roles{API: true, Worker: true, Scheduler: true}
		case roleAPI:
			r.API = true
		case roleWorker:
			r.Worker = true
		case roleScheduler:
			r.Scheduler = true
		default:
			return roles{}, fmt.Errorf("unknown role %q (want all, api, worker or scheduler)", name)
		}
	}
	return r, nil
}

// all reports whether every component runs in this process.
func (r roles) all() bool {
	return r.API && r.Worker && r.Scheduler
}
