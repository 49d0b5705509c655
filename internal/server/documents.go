package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type collectionScope struct {
	collection string
	ownerID    string
}

type listResponsePayload struct {
	Documents []json.RawMessage `json:"documents"`
}

type addResponsePayload struct {
	ID string `json:"id"`
}

// resolveScope maps the collection path parameter to the namespace of the signed-in user.
func (h *httpHandler) resolveScope(c *gin.Context) (collectionScope, bool) {
	collection, ok := domain.LookupCollection(c.Param("collection"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorCodeUnknownCollection})
		return collectionScope{}, false
	}
	user := currentUser(c)
	if strings.TrimSpace(user.ID) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorCodeUnauthorized})
		return collectionScope{}, false
	}
	return collectionScope{collection: collection.Name, ownerID: collection.StoreOwner(user.ID)}, true
}

func (h *httpHandler) handleList(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	records, err := h.documents.List(c.Request.Context(), scope.collection, scope.ownerID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}
	objects, err := recordObjects(records)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponsePayload{Documents: objects})
}

func (h *httpHandler) handleGet(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	record, err := h.documents.Get(c.Request.Context(), scope.collection, scope.ownerID, c.Param("id"))
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}
	object, err := record.Object()
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", object)
}

func (h *httpHandler) handleAdd(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	payload, ok := readJSONBody(c)
	if !ok {
		return
	}
	if isNotes(scope) && !h.allowNoteCreate(c, payload) {
		return
	}
	documentID, err := h.documents.Add(c.Request.Context(), scope.collection, scope.ownerID, payload)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, addResponsePayload{ID: documentID})
}

func (h *httpHandler) handleSet(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	payload, ok := readJSONBody(c)
	if !ok {
		return
	}
	if isNotes(scope) && !h.allowNoteSet(c, scope, c.Param("id"), payload) {
		return
	}
	if err := h.documents.Set(c.Request.Context(), scope.collection, scope.ownerID, c.Param("id"), payload); err != nil {
		h.respondDocumentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || fields == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidRequest})
		return
	}
	if isNotes(scope) && !h.allowNoteUpdate(c, scope, c.Param("id"), fields) {
		return
	}
	if err := h.documents.Update(c.Request.Context(), scope.collection, scope.ownerID, c.Param("id"), fields); err != nil {
		h.respondDocumentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	scope, ok := h.resolveScope(c)
	if !ok {
		return
	}
	if isNotes(scope) && !h.allowNoteDelete(c, scope, c.Param("id")) {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), scope.collection, scope.ownerID, c.Param("id")); err != nil {
		h.respondDocumentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readJSONBody(c *gin.Context) (json.RawMessage, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidRequest})
		return nil, false
	}
	return body, true
}

func recordObjects(records []documents.Record) ([]json.RawMessage, error) {
	objects := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		object, err := record.Object()
		if err != nil {
			return nil, err
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// documentErrorCode returns the stable code of a document store error.
func documentErrorCode(err error) string {
	var serviceErr *documents.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	if errors.Is(err, documents.ErrInvalidPayload) {
		return "documents.invalid_payload"
	}
	return errorCodeInternal
}

func documentErrorStatus(err error) int {
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, documents.ErrInvalidPayload),
		errors.Is(err, documents.ErrInvalidCollection),
		errors.Is(err, domain.ErrInvalidDocumentID),
		errors.Is(err, domain.ErrInvalidOwnerID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) respondDocumentError(c *gin.Context, err error) {
	status := documentErrorStatus(err)
	code := documentErrorCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("document request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}
