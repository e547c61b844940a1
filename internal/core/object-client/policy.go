package objectclient

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string          `json:"Effect"`
	Principal policyPrincipal `json:"Principal"`
	Action    []string        `json:"Action"`
	Resource  []string        `json:"Resource"`
}

type policyPrincipal struct {
	AWS string `json:"AWS"`
}

// PublicReadPolicy grants anonymous GetObject on bucket/prefix*.
func PublicReadPolicy(bucket, prefix string) (string, error) {
	p := bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: policyPrincipal{AWS: "*"},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{fmt.Sprintf("arn:aws:s3:::%s/%s*", bucket, prefix)},
		}},
	}
	b, err := sonic.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal bucket policy: %w", err)
	}
	return string(b), nil
}

// ImageContentType maps a file extension to its image MIME type.
func ImageContentType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "jpg" {
		ext = "jpeg"
	}
	return "image/" + ext
}
