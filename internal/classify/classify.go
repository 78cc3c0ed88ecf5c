// Package classify turns failed API calls into the messages shown next to a form or list.
package classify

import (
	"fmt"

	"sandia/internal/apiclient"
	"sandia/internal/schema"
)

// Delete maps a failed delete of entity e.
func Delete(e *schema.Entity, err error) string {
	if err == nil {
		return ""
	}
	if apiclient.KindOf(err) == apiclient.KindConflict && e.DeleteBlocked != "" {
		return e.DeleteBlocked
	}
	return fmt.Sprintf("error deleting %s: %s", e.Label, rawText(err))
}

// Save maps a failed create or update of entity e. Backend field errors win over
// "detail", which wins over the raw failure text.
func Save(e *schema.Entity, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("could not save %s: %s", e.Label, saveReason(e, err))
}

func saveReason(e *schema.Entity, err error) string {
	apiErr, ok := apiclient.AsError(err)
	if !ok {
		return err.Error()
	}
	for _, name := range e.ErrorFields {
		if msg, ok := apiErr.Field(name); ok {
			return msg
		}
	}
	for _, f := range e.Fields {
		if msg, ok := apiErr.Field(f.Name); ok {
			return fmt.Sprintf("%s: %s", f.Label, msg)
		}
	}
	if msg, ok := apiErr.Field("detail"); ok {
		return msg
	}
	return rawText(err)
}

// Load is the text for a failed joint load of a page.
func Load(label string, err error) string {
	return fmt.Sprintf("error loading %s: %s", label, rawText(err))
}

// EditLoad is the text for a failed fetch of the record about to be edited.
func EditLoad(label string, err error) string {
	return fmt.Sprintf("could not load %s for editing: %s", label, rawText(err))
}

func rawText(err error) string {
	if apiErr, ok := apiclient.AsError(err); ok && !apiErr.Local && apiErr.Kind == apiclient.KindTransport && apiErr.Status == 0 {
		return "network error"
	}
	return err.Error()
}
