package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/shaiso/metamigrate/internal/domain"
)

const defaultSFNPollInterval = 5 * time.Second

// SFNAPI — часть клиента Step Functions, нужная executor'у.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
}

// StateMachineExecutor запускает AWS Step Functions execution.
//
// Так вызывается шаг бэкапа: это отдельно развёрнутый workflow.
// Имя execution равно ID вызова, поэтому повторная доставка того же
// вызова не запускает второй бэкап, а подхватывает существующий.
//
// Target.Name — ARN state machine.
// В режиме sync executor опрашивает DescribeExecution до финального статуса.
// В режиме async успехом считается принятый StartExecution.
type StateMachineExecutor struct {
	client       SFNAPI
	pollInterval time.Duration
}

// NewStateMachineExecutor создаёт executor; pollInterval <= 0 даёт 5s.
func NewStateMachineExecutor(client SFNAPI, pollInterval time.Duration) *StateMachineExecutor {
	if pollInterval <= 0 {
		pollInterval = defaultSFNPollInterval
	}
	return &StateMachineExecutor{client: client, pollInterval: pollInterval}
}

// Idempotent сообщает, что повторный запуск безопасен.
func (e *StateMachineExecutor) Idempotent() bool { return true }

// Execute запускает execution и, в режиме sync, ждёт его завершения.
func (e *StateMachineExecutor) Execute(ctx context.Context, inv *domain.StepInvocation) (*Outcome, error) {
	input, err := json.Marshal(inv.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal input: %v", ErrInvoke, err)
	}

	name := inv.ID.String()
	executionArn, err := e.start(ctx, inv.Target.Name, name, string(input))
	if err != nil {
		return nil, err
	}

	if inv.Mode == domain.ModeAsync {
		out, _ := json.Marshal(map[string]string{"execution_arn": executionArn})
		return &Outcome{Output: out}, nil
	}

	return e.await(ctx, executionArn)
}

func (e *StateMachineExecutor) start(ctx context.Context, stateMachineArn, name, input string) (string, error) {
	out, err := e.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineArn),
		Name:            aws.String(name),
		Input:           aws.String(input),
	})
	if err == nil {
		return aws.ToString(out.ExecutionArn), nil
	}

	// Execution с таким именем уже есть: это повторная доставка, подхватываем его
	var exists *sfntypes.ExecutionAlreadyExists
	if errors.As(err, &exists) {
		return ExecutionArn(stateMachineArn, name), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", fmt.Errorf("%w: start execution: %v", ErrInvoke, err)
}

// await опрашивает execution до финального статуса или отмены ctx.
func (e *StateMachineExecutor) await(ctx context.Context, executionArn string) (*Outcome, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		desc, err := e.client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
			ExecutionArn: aws.String(executionArn),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("describe execution %s: %w", executionArn, err)
		}

		switch desc.Status {
		case sfntypes.ExecutionStatusSucceeded:
			return &Outcome{Output: rawOrNil(desc.Output)}, nil
		case sfntypes.ExecutionStatusFailed, sfntypes.ExecutionStatusTimedOut, sfntypes.ExecutionStatusAborted:
			return &Outcome{Error: executionError(desc)}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExecutionArn строит ARN execution из ARN state machine и имени.
func ExecutionArn(stateMachineArn, name string) string {
	return strings.Replace(stateMachineArn, ":stateMachine:", ":execution:", 1) + ":" + name
}

// executionError собирает сообщение об ошибке execution, сохраняя Error и Cause как есть.
func executionError(desc *sfn.DescribeExecutionOutput) string {
	errName := aws.ToString(desc.Error)
	cause := aws.ToString(desc.Cause)

	switch {
	case errName != "" && cause != "":
		return errName + ": " + cause
	case errName != "":
		return errName
	case cause != "":
		return cause
	default:
		return "execution " + string(desc.Status)
	}
}

func rawOrNil(s *string) json.RawMessage {
	if s == nil || *s == "" {
		return nil
	}
	if !json.Valid([]byte(*s)) {
		b, _ := json.Marshal(*s)
		return b
	}
	return json.RawMessage(*s)
}
