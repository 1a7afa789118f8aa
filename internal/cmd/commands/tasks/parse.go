package tasks

import (
	"fmt"

	"github.com/timofeymelnik/gestoria/pkg/recordid"
)

func parseTaskID(raw string) (recordid.ID, error) {
	id, err := recordid.Parse(raw)
	if err != nil {
		return recordid.ID{}, fmt.Errorf("invalid task id %q: %w", raw, err)
	}
	return id, nil
}
