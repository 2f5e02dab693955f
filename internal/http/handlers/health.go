package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status  string   `json:"status"`
	Service string   `json:"service"`
	Version string   `json:"version"`
	Preset  string   `json:"preset"`
	Runtime string   `json:"runtime"`
	Engines []string `json:"engines"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	engines := a.info.Engines
	if engines == nil {
		engines = []string{}
	}
	a.json(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Service: a.info.Service,
		Version: a.info.Version,
		Preset:  a.info.Preset,
		Runtime: a.info.Runtime,
		Engines: engines,
	})
}
