package media

import (
	"context"
	"strings"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

var _ ports.ScriptSource = ParamsScript{}

// ParamsScript uses the narration supplied with the request. There is no
// automatic script generation, so an empty script yields "".
type ParamsScript struct{}

func (ParamsScript) Script(_ context.Context, p domain.VideoParams) (string, error) {
	return strings.TrimSpace(p.VideoScript), nil
}
