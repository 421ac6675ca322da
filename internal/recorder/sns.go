package recorder

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	awsclient "heart-risk-predictor/internal/common/aws"
	"heart-risk-predictor/internal/models"
)

// SNSRecorder alerts a topic about high-risk predictions. Other
// predictions are skipped.
type SNSRecorder struct {
	client   awsclient.SNSPublisher
	topicARN string
}

func NewSNSRecorder(client awsclient.SNSPublisher, topicARN string) *SNSRecorder {
	return &SNSRecorder{client: client, topicARN: topicARN}
}

func (r *SNSRecorder) Name() string { return "sns" }

func (r *SNSRecorder) Record(ctx context.Context, event *models.PredictionEvent) error {
	if !event.HighRisk {
		return nil
	}

	_, err := r.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(r.topicARN),
		Subject:  aws.String("High heart attack risk prediction"),
		Message:  aws.String(alertMessage(event)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"label": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Label),
			},
			"modelVersion": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.ModelVersion),
			},
			"probability": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatFloat(event.Probability, 'f', 4, 64)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

func alertMessage(event *models.PredictionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prediction %s: %s (probability %.1f%%)\n", event.ID, event.Label, event.Probability*100)
	if event.RequestID != "" {
		fmt.Fprintf(&b, "Request: %s\n", event.RequestID)
	}
	b.WriteString("Top contributing features:\n")
	for _, f := range event.TopFeatures {
		fmt.Fprintf(&b, "  %s = %g (%+.4f)\n", f.Feature, f.Value, f.ShapValue)
	}
	return b.String()
}
