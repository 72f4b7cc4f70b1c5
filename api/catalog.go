package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
)

func structureID(r *http.Request) (id.FeeStructureID, error) {
	raw := mux.Vars(r)["id"]
	sid, err := id.ParseFeeStructureID(raw)
	if err != nil {
		return sid, notFoundID("fee structure", raw)
	}
	return sid, nil
}

func (h *Handler) itemInput(req itemRequest) (bursar.ItemInput, error) {
	amount, err := req.Amount.money(h.b.Currency(), "amount")
	if err != nil {
		return bursar.ItemInput{}, err
	}
	return bursar.ItemInput{
		ClassID:      req.ClassID,
		ItemName:     req.ItemName,
		Amount:       amount,
		Category:     feestructure.Category(strings.ToUpper(req.Category)),
		BillingCycle: feestructure.BillingCycle(strings.ToUpper(req.BillingCycle)),
		IsOptional:   req.IsOptional,
	}, nil
}

// CreateStructure handles POST /api/v1/fees/structures.
func (h *Handler) CreateStructure(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	var req createStructureRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	fs, err := h.b.CreateStructure(r.Context(), school, bursar.CreateStructureInput{
		Name:  req.Name,
		Level: req.Level,
		Year:  req.Year,
		Term:  req.Term,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fs)
}

// ListStructures handles GET /api/v1/fees/structures.
func (h *Handler) ListStructures(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	q := &query{r: r}
	f := bursar.StructureFilter{
		Year:      q.int("year"),
		Term:      q.int("term"),
		Level:     q.str("level"),
		Published: q.bool("published"),
		Default:   q.bool("default"),
		Search:    q.str("q"),
		Limit:     q.int("limit"),
		Offset:    q.int("offset"),
	}
	if hide := q.bool("hide_empty"); hide != nil {
		f.HideEmpty = *hide
	}
	if q.err != nil {
		h.fail(w, r, q.err)
		return
	}
	list, err := h.b.ListStructures(r.Context(), school, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetStructure handles GET /api/v1/fees/structures/{id}.
func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.b.GetStructure(r.Context(), school, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateStructure handles PATCH /api/v1/fees/structures/{id}. Fields are
// applied in order: rename, publish, default. Unpublishing or clearing the
// default is not supported.
func (h *Handler) UpdateStructure(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateStructureRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Published != nil && !*req.Published {
		h.fail(w, r, bursar.Invalid("is_published", "a published structure cannot be unpublished"))
		return
	}
	if req.Default != nil && !*req.Default {
		h.fail(w, r, bursar.Invalid("is_default", "set another structure as default instead"))
		return
	}

	ctx := r.Context()
	var fs *feestructure.FeeStructure
	if req.Name != nil {
		if fs, err = h.b.RenameStructure(ctx, school, sid, *req.Name); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.Published != nil {
		if fs, err = h.b.PublishStructure(ctx, school, sid); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.Default != nil {
		if fs, err = h.b.SetDefaultStructure(ctx, school, sid); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if fs == nil {
		d, err := h.b.GetStructure(ctx, school, sid)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		fs = &d.FeeStructure
	}
	writeJSON(w, http.StatusOK, fs)
}

// DeleteStructure handles DELETE /api/v1/fees/structures/{id}.
func (h *Handler) DeleteStructure(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.b.DeleteStructure(r.Context(), school, sid); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishStructure handles POST /api/v1/fees/structures/{id}/publish.
func (h *Handler) PublishStructure(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fs, err := h.b.PublishStructure(r.Context(), school, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

// SetDefaultStructure handles POST /api/v1/fees/structures/{id}/default.
func (h *Handler) SetDefaultStructure(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fs, err := h.b.SetDefaultStructure(r.Context(), school, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

// ListItems handles GET /api/v1/fees/structures/{id}/items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.b.ListItems(r.Context(), school, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// AddItem handles POST /api/v1/fees/structures/{id}/items. An existing
// item with the same class and name is updated: 200 instead of 201.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req itemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := h.itemInput(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	item, created, err := h.b.AddItem(r.Context(), school, sid, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, item)
}

// DeleteAllItems handles DELETE /api/v1/fees/structures/{id}/items.
func (h *Handler) DeleteAllItems(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.b.DeleteAllItems(r.Context(), school, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// GetItemByName handles GET /api/v1/fees/structures/{id}/items/by-name/{name}.
func (h *Handler) GetItemByName(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	sid, err := structureID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := &query{r: r}
	item, err := h.b.GetItemByName(r.Context(), school, sid, q.str("class_id"), mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateItem handles PUT /api/v1/fees/structures/{id}/items/{item_id}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	raw := mux.Vars(r)["item_id"]
	itemID, err := id.ParseFeeItemID(raw)
	if err != nil {
		h.fail(w, r, notFoundID("fee item", raw))
		return
	}
	var req itemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := h.itemInput(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.b.UpdateItem(r.Context(), school, itemID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/v1/fees/structures/{id}/items/{item_id}.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	raw := mux.Vars(r)["item_id"]
	itemID, err := id.ParseFeeItemID(raw)
	if err != nil {
		h.fail(w, r, notFoundID("fee item", raw))
		return
	}
	if err := h.b.DeleteItem(r.Context(), school, itemID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
