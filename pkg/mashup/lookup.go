package mashup

import "context"

// PrimaryLookup finds the ordered subjects for a keyword.
// The dispatcher never calls it concurrently with itself.
type PrimaryLookup interface {
	FindSubjects(ctx context.Context, keyword string) ([]Subject, error)
}

// SecondaryLookup finds the items related to a subject.
// Implementations must be safe for concurrent use.
type SecondaryLookup interface {
	FindRelated(ctx context.Context, subjectName string) ([]RelatedItem, error)
}

// PrimaryLookupFunc adapts a function to PrimaryLookup.
type PrimaryLookupFunc func(ctx context.Context, keyword string) ([]Subject, error)

// FindSubjects calls f.
func (f PrimaryLookupFunc) FindSubjects(ctx context.Context, keyword string) ([]Subject, error) {
	return f(ctx, keyword)
}

// SecondaryLookupFunc adapts a function to SecondaryLookup.
type SecondaryLookupFunc func(ctx context.Context, subjectName string) ([]RelatedItem, error)

// FindRelated calls f.
func (f SecondaryLookupFunc) FindRelated(ctx context.Context, subjectName string) ([]RelatedItem, error) {
	return f(ctx, subjectName)
}
