package notify

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/boweazy/smartflow/internal/log"

	"go.uber.org/zap"
)

// StubPublisher stands in for real platform SDKs. It enforces the same
// contract they would (no publish without a connected account token) and
// mints a deterministic external id per platform+content.
type StubPublisher struct {
	logger *log.Logger
}

func NewStubPublisher(logger *log.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) Publish(ctx context.Context, platform, content, accessToken string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if accessToken == "" {
		return "", fmt.Errorf("missing_access_token")
	}
	h := fnv.New32a()
	h.Write([]byte(content))
	externalID := fmt.Sprintf("%s_%d", platform, h.Sum32()%10_000_000)
	p.logger.Info("Published post (stub)", zap.String("platform", platform), zap.String("external_id", externalID))
	return externalID, nil
}
