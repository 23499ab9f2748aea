package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vendin/pkg/tenants"
)

func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		a.log.Errorw("list tenants", "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list, http.StatusOK)
}

// createTenant registers the tenant in `provisioning` and kicks off the
// orchestrator in the background. The caller polls status via GET.
func (a *App) createTenant(w http.ResponseWriter, r *http.Request) {
	var in tenants.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if in.Name == "" || in.MerchantEmail == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	t, err := a.store.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, tenants.ErrSubdomainTaken) {
			http.Error(w, "subdomain already in use", http.StatusConflict)
			return
		}
		a.log.Errorw("create tenant", "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	a.runAsync(func(ctx context.Context) {
		if err := a.orch.Provision(ctx, t.ID); err != nil {
			a.log.Errorw("background provisioning failed", "tenant", t.ID, "err", err)
		}
	})

	writeJSON(w, t, http.StatusAccepted)
}

// lookupTenant serves the gateway's subdomain resolution. 404 is a normal
// outcome here, not an error.
func (a *App) lookupTenant(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Query().Get("subdomain")
	if sub == "" {
		http.Error(w, "missing subdomain parameter", http.StatusBadRequest)
		return
	}
	t, err := a.store.GetBySubdomain(r.Context(), sub)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		a.log.Errorw("lookup tenant", "subdomain", sub, "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		a.log.Errorw("get tenant", "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (a *App) updateTenant(w http.ResponseWriter, r *http.Request) {
	var in tenants.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	t, err := a.store.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		a.log.Errorw("update tenant", "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

// deleteTenant deprovisions asynchronously; the store flips to deleted only
// after the orchestrator confirms teardown.
func (a *App) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		a.log.Errorw("delete tenant", "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if !t.Status.CanTransition(tenants.StatusDeleted) {
		http.Error(w, "tenant cannot be deleted in its current state", http.StatusConflict)
		return
	}

	a.runAsync(func(ctx context.Context) {
		if err := a.orch.Deprovision(ctx, id); err != nil {
			a.log.Errorw("background deprovisioning failed", "tenant", id, "err", err)
		}
	})

	writeJSON(w, map[string]any{"status": "deletion started"}, http.StatusAccepted)
}

func (a *App) suspendTenant(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.orch.Suspend)
}

func (a *App) resumeTenant(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.orch.Resume)
}

func (a *App) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (tenants.Tenant, error)) {
	t, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, tenants.ErrNotFound):
			http.Error(w, "tenant not found", http.StatusNotFound)
		case errors.Is(err, tenants.ErrBadTransition):
			http.Error(w, "illegal status transition", http.StatusConflict)
		default:
			a.log.Errorw("status transition", "err", err)
			http.Error(w, "db error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, t, http.StatusOK)
}
