package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/gin-gonic/gin"
)

// isNotes reports whether scope is the shared notes collection. Only the sender creates a note,
// only the receiver flips read to true, and either of them may delete it.
func isNotes(scope collectionScope) bool {
	return scope.collection == domain.CollectionNotes
}

// allowNoteCreate requires a new note to be sent by the caller.
func (h *httpHandler) allowNoteCreate(c *gin.Context, payload json.RawMessage) bool {
	var note domain.EncouragementNote
	if err := json.Unmarshal(payload, &note); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidRequest})
		return false
	}
	if note.SenderID != currentUser(c).ID || note.Read {
		c.JSON(http.StatusForbidden, gin.H{"error": errorCodeForbidden})
		return false
	}
	return true
}

// allowNoteSet permits PUT only for a note that does not exist yet.
func (h *httpHandler) allowNoteSet(c *gin.Context, scope collectionScope, documentID string, payload json.RawMessage) bool {
	_, err := h.documents.Get(c.Request.Context(), scope.collection, scope.ownerID, documentID)
	switch {
	case err == nil:
		c.JSON(http.StatusForbidden, gin.H{"error": errorCodeNoteImmutable})
		return false
	case errors.Is(err, documents.ErrNotFound):
		return h.allowNoteCreate(c, payload)
	default:
		h.respondDocumentError(c, err)
		return false
	}
}

// allowNoteUpdate permits exactly {"read": true} from the receiver.
func (h *httpHandler) allowNoteUpdate(c *gin.Context, scope collectionScope, documentID string, fields map[string]any) bool {
	read, ok := fields["read"].(bool)
	if len(fields) != 1 || !ok || !read {
		c.JSON(http.StatusForbidden, gin.H{"error": errorCodeNoteImmutable})
		return false
	}
	note, ok := h.loadNote(c, scope, documentID)
	if !ok {
		return false
	}
	if note.ReceiverID != currentUser(c).ID {
		c.JSON(http.StatusForbidden, gin.H{"error": errorCodeForbidden})
		return false
	}
	return true
}

// allowNoteDelete permits the sender or the receiver.
func (h *httpHandler) allowNoteDelete(c *gin.Context, scope collectionScope, documentID string) bool {
	note, ok := h.loadNote(c, scope, documentID)
	if !ok {
		return false
	}
	if !note.HasParticipant(currentUser(c).ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": errorCodeForbidden})
		return false
	}
	return true
}

func (h *httpHandler) loadNote(c *gin.Context, scope collectionScope, documentID string) (domain.EncouragementNote, bool) {
	record, err := h.documents.Get(c.Request.Context(), scope.collection, scope.ownerID, documentID)
	if err != nil {
		h.respondDocumentError(c, err)
		return domain.EncouragementNote{}, false
	}
	note, err := documents.DecodeRecord[domain.EncouragementNote](record)
	if err != nil {
		h.respondDocumentError(c, err)
		return domain.EncouragementNote{}, false
	}
	return note, true
}
