// CDK app provisioning the transaction pipeline: queue plus dead-letter
// queue, orders table, notification topics, the processor Lambda wired as
// an SQS event source with partial batch responses, and health alarms.
package main

import (
	"fmt"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatch"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambdaeventsources"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssqs"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/pipetheory/pkg/naming"
)

const (
	appName = "pipetheory"

	// processorTimeoutSeconds bounds one batch invocation. The queue
	// visibility timeout stays above it so a message never becomes
	// visible while its batch is still in flight.
	processorTimeoutSeconds  = 30
	visibilityMarginSeconds  = 30
	redriveMaxReceiveCount   = 5
	dlqRetentionDays         = 14
	eventSourceBatchSize     = 10
	maxBatchingWindowSeconds = 1
)

type PipelineStackProps struct {
	awscdk.StackProps

	Stage string
}

func NewPipelineStack(scope constructs.Construct, id string, props *PipelineStackProps) awscdk.Stack {
	stack := awscdk.NewStack(scope, jsii.String(id), &props.StackProps)
	stage := naming.NormalizeStage(props.Stage)

	name := func(resource string) *string {
		return jsii.String(naming.ResourceName(appName, resource, stage))
	}

	dlq := awssqs.NewQueue(stack, jsii.String("TransactionsDLQ"), &awssqs.QueueProps{
		QueueName:       name("transactions-dlq"),
		RetentionPeriod: awscdk.Duration_Days(jsii.Number(dlqRetentionDays)),
		EnforceSSL:      jsii.Bool(true),
	})

	queue := awssqs.NewQueue(stack, jsii.String("TransactionsQueue"), &awssqs.QueueProps{
		QueueName:         name("transactions"),
		VisibilityTimeout: awscdk.Duration_Seconds(jsii.Number(processorTimeoutSeconds + visibilityMarginSeconds)),
		EnforceSSL:        jsii.Bool(true),
		DeadLetterQueue: &awssqs.DeadLetterQueue{
			Queue:           dlq,
			MaxReceiveCount: jsii.Number(redriveMaxReceiveCount),
		},
	})

	table := awsdynamodb.NewTable(stack, jsii.String("OrdersTable"), &awsdynamodb.TableProps{
		TableName: name("orders"),
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String("transaction_id"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		BillingMode:   awsdynamodb.BillingMode_PAY_PER_REQUEST,
		RemovalPolicy: awscdk.RemovalPolicy_RETAIN,
	})

	largeOrderTopic := awssns.NewTopic(stack, jsii.String("LargeOrderTopic"), &awssns.TopicProps{
		TopicName: name("large-orders"),
	})
	invalidTopic := awssns.NewTopic(stack, jsii.String("InvalidTransactionTopic"), &awssns.TopicProps{
		TopicName: name("invalid-transactions"),
	})
	alertsTopic := awssns.NewTopic(stack, jsii.String("AlertsTopic"), &awssns.TopicProps{
		TopicName: name("alerts"),
	})

	processor := awslambda.NewFunction(stack, jsii.String("Processor"), &awslambda.FunctionProps{
		FunctionName: name("processor"),
		Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
		Architecture: awslambda.Architecture_ARM_64(),
		Handler:      jsii.String("bootstrap"),
		Code:         awslambda.Code_FromAsset(jsii.String("../dist/processor"), nil),
		MemorySize:   jsii.Number(256),
		Timeout:      awscdk.Duration_Seconds(jsii.Number(processorTimeoutSeconds)),
		Environment: &map[string]*string{
			"APP_NAME":          jsii.String(appName),
			"STAGE":             jsii.String(stage),
			"QUEUE_NAME":        queue.QueueName(),
			"TABLE_NAME":        table.TableName(),
			"TOPIC_LARGE_ARN":   largeOrderTopic.TopicArn(),
			"TOPIC_INVALID_ARN": invalidTopic.TopicArn(),
			"TOPIC_ALERTS_ARN":  alertsTopic.TopicArn(),
			"LOG_LEVEL":         jsii.String("INFO"),
		},
	})

	processor.AddEventSource(awslambdaeventsources.NewSqsEventSource(queue, &awslambdaeventsources.SqsEventSourceProps{
		BatchSize:               jsii.Number(eventSourceBatchSize),
		MaxBatchingWindow:       awscdk.Duration_Seconds(jsii.Number(maxBatchingWindowSeconds)),
		ReportBatchItemFailures: jsii.Bool(true),
	}))

	table.GrantWriteData(processor)
	largeOrderTopic.GrantPublish(processor)
	invalidTopic.GrantPublish(processor)
	alertsTopic.GrantPublish(processor)

	errorsAlarm := processor.MetricErrors(&awscloudwatch.MetricOptions{
		Period:    awscdk.Duration_Minutes(jsii.Number(5)),
		Statistic: jsii.String("Sum"),
	}).CreateAlarm(stack, jsii.String("ProcessorErrors"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:         name("processor-errors"),
		Threshold:         jsii.Number(1),
		EvaluationPeriods: jsii.Number(1),
		TreatMissingData:  awscloudwatch.TreatMissingData_NOT_BREACHING,
	})

	ageAlarm := queue.MetricApproximateAgeOfOldestMessage(&awscloudwatch.MetricOptions{
		Period:    awscdk.Duration_Minutes(jsii.Number(5)),
		Statistic: jsii.String("Maximum"),
	}).CreateAlarm(stack, jsii.String("QueueBacklogAge"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:         name("queue-backlog-age"),
		Threshold:         jsii.Number(900),
		EvaluationPeriods: jsii.Number(1),
		TreatMissingData:  awscloudwatch.TreatMissingData_NOT_BREACHING,
	})

	dlqAlarm := dlq.MetricApproximateNumberOfMessagesVisible(&awscloudwatch.MetricOptions{
		Period:    awscdk.Duration_Minutes(jsii.Number(5)),
		Statistic: jsii.String("Maximum"),
	}).CreateAlarm(stack, jsii.String("DeadLetters"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:         name("dead-letters"),
		Threshold:         jsii.Number(1),
		EvaluationPeriods: jsii.Number(1),
		TreatMissingData:  awscloudwatch.TreatMissingData_NOT_BREACHING,
	})

	throttleAlarm := awscloudwatch.NewAlarm(stack, jsii.String("StoreThrottles"), &awscloudwatch.AlarmProps{
		AlarmName: name("store-throttles"),
		Metric: table.MetricThrottledRequestsForOperations(&awsdynamodb.OperationsMetricOptions{
			Operations: &[]awsdynamodb.Operation{awsdynamodb.Operation_PUT_ITEM},
			Period:     awscdk.Duration_Minutes(jsii.Number(5)),
		}),
		Threshold:         jsii.Number(1),
		EvaluationPeriods: jsii.Number(1),
		TreatMissingData:  awscloudwatch.TreatMissingData_NOT_BREACHING,
	})

	awscloudwatch.NewCompositeAlarm(stack, jsii.String("PipelineHealth"), &awscloudwatch.CompositeAlarmProps{
		CompositeAlarmName: name("pipeline-health"),
		AlarmRule: awscloudwatch.AlarmRule_AnyOf(
			awscloudwatch.AlarmRule_FromAlarm(errorsAlarm, awscloudwatch.AlarmState_ALARM),
			awscloudwatch.AlarmRule_FromAlarm(ageAlarm, awscloudwatch.AlarmState_ALARM),
			awscloudwatch.AlarmRule_FromAlarm(dlqAlarm, awscloudwatch.AlarmState_ALARM),
			awscloudwatch.AlarmRule_FromAlarm(throttleAlarm, awscloudwatch.AlarmState_ALARM),
		),
	})

	awscdk.NewCfnOutput(stack, jsii.String("QueueUrl"), &awscdk.CfnOutputProps{Value: queue.QueueUrl()})
	awscdk.NewCfnOutput(stack, jsii.String("DeadLetterQueueUrl"), &awscdk.CfnOutputProps{Value: dlq.QueueUrl()})
	awscdk.NewCfnOutput(stack, jsii.String("OrdersTableName"), &awscdk.CfnOutputProps{Value: table.TableName()})
	awscdk.NewCfnOutput(stack, jsii.String("AlertsTopicArn"), &awscdk.CfnOutputProps{Value: alertsTopic.TopicArn()})

	return stack
}

func main() {
	defer jsii.Close()

	app := awscdk.NewApp(nil)

	stage := os.Getenv("STAGE")
	if stage == "" {
		stage = "dev"
	}

	NewPipelineStack(app, fmt.Sprintf("%s-%s", appName, naming.NormalizeStage(stage)), &PipelineStackProps{
		StackProps: awscdk.StackProps{Env: env()},
		Stage:      stage,
	})

	app.Synth(nil)
}

func env() *awscdk.Environment {
	account := os.Getenv("CDK_DEFAULT_ACCOUNT")
	region := os.Getenv("CDK_DEFAULT_REGION")
	if account == "" || region == "" {
		return nil
	}
	return &awscdk.Environment{
		Account: jsii.String(account),
		Region:  jsii.String(region),
	}
}
