package aws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// SessionConfig holds what is needed to talk to S3 or an S3 compatible
// service such as DigitalOcean Spaces.
type SessionConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	Secret         string
	ForcePathStyle bool
}

// NewSession builds a session. Static credentials are used when an access
// key is set, otherwise the default provider chain applies.
func NewSession(c SessionConfig) (*session.Session, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(c.Region),
		S3ForcePathStyle: aws.Bool(c.ForcePathStyle),
	}
	if c.Endpoint != "" {
		awsConfig.Endpoint = aws.String(c.Endpoint)
	}
	if c.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(c.AccessKey, c.Secret, "")
	}
	return session.NewSession(awsConfig)
}
