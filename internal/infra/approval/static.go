package approval

import (
	"context"

	"agentflow/internal/domain"
)

// Static answers every request with the same verdict.
type Static struct {
	Verdict domain.ApprovalVerdict
}

func ApproveAll() Static {
	return Static{Verdict: domain.VerdictApprove}
}

func DenyAll() Static {
	return Static{Verdict: domain.VerdictDeny}
}

func (s Static) Await(ctx context.Context, _ domain.ApprovalRequest) (domain.ApprovalVerdict, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Wrap(domain.CodeCanceled, "approval.await", err)
	}
	if s.Verdict == "" {
		return domain.VerdictDeny, nil
	}
	return s.Verdict, nil
}

var _ domain.Approver = Static{}
