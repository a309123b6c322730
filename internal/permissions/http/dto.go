package permissionshttp

import (
	"github.com/plantops/plantops/internal/permissions"
)

type changeDTO struct {
	Level    string `json:"level" validate:"required,max=32"`
	Resource string `json:"resource_slug" validate:"required,max=100"`
	Action   string `json:"action_slug" validate:"required,max=100"`
	Allowed  *bool  `json:"allowed" validate:"required"`
}

type applyRequest struct {
	Changes []changeDTO `json:"changes" validate:"required,min=1,max=2000,dive"`
}

type applyResponse struct {
	Applied int    `json:"applied"`
	Changed int    `json:"changed"`
	BatchID string `json:"batch_id"`
	Message string `json:"message"`
}

type checkResponse struct {
	Level    string `json:"level"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Allowed  bool   `json:"allowed"`
}

func (d changeDTO) toChange() (permissions.Change, error) {
	level, err := permissions.ParseAccessLevel(d.Level)
	if err != nil {
		return permissions.Change{}, err
	}
	return permissions.Change{
		Key:     permissions.NewKey(level, d.Resource, d.Action),
		Allowed: *d.Allowed,
	}, nil
}
