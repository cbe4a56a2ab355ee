package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/shaiso/metamigrate/internal/domain"
)

// LambdaAPI — часть клиента Lambda, нужная executor'у.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaExecutor вызывает AWS Lambda.
//
// Так вызывается шаг миграции. Target.Name — имя или ARN функции.
// sync — RequestResponse: FunctionError в ответе означает неуспех,
// payload ошибки передаётся без изменений. async — Event: успехом
// считается принятый вызов (HTTP 202).
type LambdaExecutor struct {
	client LambdaAPI
}

// NewLambdaExecutor создаёт executor.
func NewLambdaExecutor(client LambdaAPI) *LambdaExecutor {
	return &LambdaExecutor{client: client}
}

// Execute вызывает функцию.
func (e *LambdaExecutor) Execute(ctx context.Context, inv *domain.StepInvocation) (*Outcome, error) {
	payload, err := json.Marshal(inv.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrInvoke, err)
	}

	invocationType := lambdatypes.InvocationTypeRequestResponse
	if inv.Mode == domain.ModeAsync {
		invocationType = lambdatypes.InvocationTypeEvent
	}

	out, err := e.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(inv.Target.Name),
		InvocationType: invocationType,
		Payload:        payload,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: invoke %s: %v", ErrInvoke, inv.Target.Name, err)
	}

	if out.FunctionError != nil {
		msg := string(out.Payload)
		if msg == "" {
			msg = aws.ToString(out.FunctionError)
		}
		return &Outcome{Output: validJSON(out.Payload), Error: msg}, nil
	}

	return &Outcome{Output: validJSON(out.Payload)}, nil
}

func validJSON(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
