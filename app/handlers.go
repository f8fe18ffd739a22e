package app

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/honeycombio/rebalancer/types"
)

const source = "rebalancer"

func (a *App) alive(w http.ResponseWriter, req *http.Request) {
	alive := a.Health.IsAlive()
	a.writeJSON(w, statusFor(alive), map[string]any{"source": source, "alive": yesNo(alive)})
}

func (a *App) ready(w http.ResponseWriter, req *http.Request) {
	ready := a.Health.IsReady()
	a.writeJSON(w, statusFor(ready), map[string]any{"source": source, "ready": yesNo(ready)})
}

func (a *App) version(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"source": source, "version": a.Version})
}

func (a *App) status(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"source":      source,
		"alive":       a.Health.IsAlive(),
		"ready":       a.Health.IsReady(),
		"subsystems":  a.Health.Status(),
		"config_hash": a.Config.GetHash(),
	})
}

// rebalanceOrg runs one synchronous rebalancing of a single organization.
func (a *App) rebalanceOrg(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(req)["orgID"], 10, 64)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid organization id"})
		return
	}
	org := types.OrgID(id)
	if err := a.Rebalancer.BoostLowVolumeProjectsOfOrg(req.Context(), org); err != nil {
		a.Logger.Error().WithField("org_id", org).WithField("error", err.Error()).Logf("manual rebalance failed")
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{"org_id": org, "error": err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"org_id": org, "rebalanced": true})
}

func (a *App) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := jsoniter.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
		return
	}
	w.WriteHeader(status)
	w.Write(data)
}

func statusFor(ok bool) int {
	if ok {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
