package handlers

import (
	"github.com/Fantasim/minerstake/internal/action"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/db"
	"github.com/Fantasim/minerstake/internal/discovery"
	"github.com/Fantasim/minerstake/internal/notify"
	"github.com/Fantasim/minerstake/internal/pool"
	"github.com/Fantasim/minerstake/internal/tiers"
	"github.com/Fantasim/minerstake/internal/tracker"
	"github.com/Fantasim/minerstake/internal/wallet"
)

// Deps holds the services the HTTP handlers operate on.
type Deps struct {
	Config       *config.Config
	Version      string
	Session      *wallet.Session
	Tracker      *tracker.Tracker
	Reader       discovery.BatchReader
	Fetcher      tracker.Fetcher
	Pool         *pool.Service
	Orchestrator *action.Orchestrator
	DB           *db.DB
	Hub          *notify.Hub
	Tiers        *tiers.Table
}
