package handler

import (
	"net/http"

	"github.com/mtlprog/pointledger/internal/handler/dto"
)

// handleListTasks returns the task catalog.
// @Summary List catalog tasks
// @Tags catalog
// @Produce json
// @Param active query bool false "Only active tasks"
// @Success 200 {object} dto.TasksResponse
// @Router /tasks [get]
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := actorFrom(w, r); !ok {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"

	tasks, err := h.catalogService.ListTasks(ctx, activeOnly)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.TasksResponse{Tasks: make([]dto.TaskResponse, len(tasks))}
	for i, t := range tasks {
		resp.Tasks[i] = dto.NewTaskResponse(t)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSyncCatalog reconciles the tasks table with the reference table.
// @Summary Synchronize the task catalog
// @Description Administrators only. Inserts, reactivates, updates and deactivates tasks.
// @Tags catalog
// @Produce json
// @Success 200 {object} dto.SyncResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /catalog/sync [post]
func (h *Handler) handleSyncCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	items, err := h.loadCatalog()
	if err != nil {
		respondDomainError(w, err)
		return
	}

	result, err := h.catalogService.SynchronizeAs(ctx, actor, items)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.SyncResponse{
		Inserted:    result.Inserted,
		Reactivated: result.Reactivated,
		Updated:     result.Updated,
		Deactivated: result.Deactivated,
	})
}

// handleListPeople returns the people whose ledgers the caller can see.
// @Summary List visible people
// @Tags people
// @Produce json
// @Success 200 {object} dto.PeopleResponse
// @Router /people [get]
func (h *Handler) handleListPeople(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	people, err := h.validator.VisiblePeople(ctx, actor)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.PeopleResponse{People: make([]dto.PersonResponse, len(people))}
	for i, p := range people {
		resp.People[i] = dto.NewPersonResponse(p)
	}
	respondJSON(w, http.StatusOK, resp)
}
