package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"proxygate/internal/checker"
	"proxygate/internal/config"
	"proxygate/internal/denylist"
	"proxygate/internal/registry"
	"proxygate/internal/rotation"
)

type handlers struct {
	registry *registry.Registry
	selector *rotation.Selector
	denylist *denylist.Cache
	checker  *checker.Checker
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"proxies": h.registry.Len(),
	})
}

// getProxy selects one proxy under the requested strategy, optionally
// scoped to a target URL.
func (h *handlers) getProxy(w http.ResponseWriter, r *http.Request) {
	strategy := strings.TrimSpace(r.URL.Query().Get("strategy"))
	if strategy == "" {
		strategy = config.GetConfig().Rotation.DefaultPolicy
	}
	policy := rotation.Policy(strategy)
	if !validPolicy(policy) {
		writeError(w, "unknown strategy: "+strategy, http.StatusBadRequest)
		return
	}

	targetURL := strings.TrimSpace(r.URL.Query().Get("target_url"))
	if targetURL != "" && h.denylist.Matches(targetURL) {
		writeError(w, "target URL is denied", http.StatusForbidden)
		return
	}

	selected, err := h.selector.Select(policy, targetURL)
	if err != nil {
		if errors.Is(err, rotation.ErrNoCandidate) {
			writeError(w, "no working proxy available", http.StatusNotFound)
			return
		}
		log.Error("proxy selection failed", "strategy", strategy, "error", err)
		writeError(w, "selection failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, proxyInfoOf(selected))
}

func (h *handlers) listProxies(w http.ResponseWriter, _ *http.Request) {
	records := h.registry.Snapshot()
	infos := make([]ProxyInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, proxyInfoOf(record))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(infos),
		"proxies": infos,
	})
}

// checkProxy runs a health test for one proxy outside the periodic cycle.
func (h *handlers) checkProxy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, "invalid proxy id", http.StatusBadRequest)
		return
	}

	record, err := h.checker.CheckNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, "proxy not found", http.StatusNotFound)
			return
		}
		log.Error("on-demand check failed", "proxy_id", id, "error", err)
		writeError(w, "check failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, proxyInfoOf(record))
}

func validPolicy(policy rotation.Policy) bool {
	switch policy {
	case rotation.PolicyRandom, rotation.PolicyRoundRobin, rotation.PolicyLRU, rotation.PolicyBest, rotation.PolicyHealthScore:
		return true
	default:
		return false
	}
}
