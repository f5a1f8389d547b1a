package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"qlsv/internal/metrics"
	"qlsv/internal/models"
	"qlsv/internal/store"
)

type StudentHandler struct {
	store store.Store
}

func NewStudentHandler(st store.Store) *StudentHandler {
	return &StudentHandler{store: st}
}

// HandleList returns the aggregated summary for every student. The whole
// result set materializes per request; there is no pagination.
func (h *StudentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	summaries, err := h.store.ListStudentSummaries()
	metrics.StudentQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error.Printf("Failed to fetch students: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch students")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"students": summaries,
	})
}

func (h *StudentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var student models.Student
	if err := json.NewDecoder(r.Body).Decode(&student); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := student.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid student data")
		return
	}

	if err := h.store.CreateStudent(&student); err != nil {
		logger.Error.Printf("Failed to create student: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create student")
		return
	}

	writeJSON(w, http.StatusCreated, student)
}

func (h *StudentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	student, err := h.store.GetStudent(id)
	if err != nil {
		logger.Error.Printf("Failed to get student %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch student")
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "student not found")
		return
	}

	writeJSON(w, http.StatusOK, student)
}

func (h *StudentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	existing, err := h.store.GetStudent(id)
	if err != nil {
		logger.Error.Printf("Failed to get student %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch student")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "student not found")
		return
	}

	var student models.Student
	if err := json.NewDecoder(r.Body).Decode(&student); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	student.ID = id
	if err := student.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid student data")
		return
	}

	if err := h.store.UpdateStudent(&student); err != nil {
		logger.Error.Printf("Failed to update student %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to update student")
		return
	}

	writeJSON(w, http.StatusOK, student)
}

func (h *StudentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	if err := h.store.DeleteStudent(id); err != nil {
		logger.Error.Printf("Failed to delete student %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete student")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "student deleted"})
}
