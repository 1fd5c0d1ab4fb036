package comments

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	prefixComment = "cmt"
	prefixReply   = "rpl"
)

type typeIDProvider struct {
	commentPrefix string
	replyPrefix   string
}

// NewTypeIDProvider constructs an IDProvider that issues prefixed, sortable
// identifiers (cmt_..., rpl_...).
func NewTypeIDProvider() IDProvider {
	return &typeIDProvider{commentPrefix: prefixComment, replyPrefix: prefixReply}
}

func (p *typeIDProvider) NewCommentID() (string, error) {
	return generate(p.commentPrefix)
}

func (p *typeIDProvider) NewReplyID() (string, error) {
	return generate(p.replyPrefix)
}

func generate(prefix string) (string, error) {
	id, err := typeid.Generate(prefix)
	if err != nil {
		return "", fmt.Errorf("generate %q id: %w", prefix, err)
	}
	return id.String(), nil
}
