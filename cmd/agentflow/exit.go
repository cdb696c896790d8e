package main

import "agentflow/internal/domain"

const (
	exitFailure           = 1
	exitMissingCredential = 3
	exitApprovalDenied    = 4
	exitTimeout           = 5
	exitToolLoop          = 6
	exitCanceled          = 130
)

func exitCode(err error) int {
	code, ok := domain.CodeFrom(err)
	if !ok {
		return exitFailure
	}
	switch code {
	case domain.CodeMissingCredential, domain.CodeInvalidCredentialFormat:
		return exitMissingCredential
	case domain.CodeApprovalDenied:
		return exitApprovalDenied
	case domain.CodeTimeout:
		return exitTimeout
	case domain.CodeToolLoopExceeded:
		return exitToolLoop
	case domain.CodeCanceled:
		return exitCanceled
	default:
		return exitFailure
	}
}
