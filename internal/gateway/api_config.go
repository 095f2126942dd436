package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/secrethound/secrethound/internal/rules"
)

// configTargets maps the route slug to the settings file it edits.
var configTargets = map[string]string{
	"rules":               rules.RulesFile,
	"excluded-files":      rules.ExcludedFilesFile,
	"excluded-extensions": rules.ExcludedExtensionsFile,
	"false-positive":      rules.FalsePositivesFile,
}

func (gw *Gateway) registerConfigRoutes(mux *http.ServeMux) {
	for slug, file := range configTargets {
		mux.HandleFunc("GET /"+slug+"-info", gw.handleConfigInfo(file))
		mux.HandleFunc("GET /get-"+slug, gw.handleConfigGet(file))
		mux.HandleFunc("POST /update-"+slug, gw.handleConfigUpdate(file))
	}
	mux.HandleFunc("POST /set-pat", gw.handleSetPAT)
	mux.HandleFunc("GET /get-pat", gw.handleGetPAT)
}

// handleConfigInfo reports name, size and mtime of a settings file.
func (gw *Gateway) handleConfigInfo(file string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := os.Stat(gw.cfg.SettingsPath(file))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":     file,
			"size":     info.Size(),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		})
	}
}

func (gw *Gateway) handleConfigGet(file string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := os.ReadFile(gw.cfg.SettingsPath(file))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": file, "content": string(data)})
	}
}

// handleConfigUpdate replaces a settings file. Line endings are normalised
// so files edited on Windows parse the same way. A restart is needed for
// the running catalog to pick the change up.
func (gw *Gateway) handleConfigUpdate(file string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		content := strings.ReplaceAll(body.Content, "\r\n", "\n")

		path := gw.cfg.SettingsPath(file)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":   file,
			"status": "updated; restart required to apply",
		})
	}
}

func (gw *Gateway) handleSetPAT(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PAT string `json:"pat"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PAT == "" {
		writeError(w, http.StatusBadRequest, "pat is required")
		return
	}
	if err := gw.creds.SetPAT(body.PAT); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// handleGetPAT never reveals more than the first four characters.
func (gw *Gateway) handleGetPAT(w http.ResponseWriter, r *http.Request) {
	pat, err := gw.creds.PAT()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pat": maskToken(pat)})
}

// maskToken hides everything but the first four characters; tokens that
// short are masked entirely.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
