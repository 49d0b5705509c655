package documents

// Document is the stored form of one document in a collection owned by a user or by the
// shared namespace.
type Document struct {
	Collection      string `gorm:"column:collection;primaryKey;size:64;not null;index:idx_documents_scope,priority:1"`
	OwnerID         string `gorm:"column:owner_id;primaryKey;size:190;not null;index:idx_documents_scope,priority:2"`
	DocumentID      string `gorm:"column:document_id;primaryKey;size:190;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_documents_scope,priority:3"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

func (d Document) record() Record {
	return Record{ID: d.DocumentID, Payload: []byte(d.PayloadJSON)}
}
