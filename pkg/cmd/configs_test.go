package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/yeisme/bucketdrain/pkg/configs"
)

func TestConfigShowRedactsSecret(t *testing.T) {
	if err := configs.InitConfig(t.TempDir()); err != nil {
		t.Fatalf("init config: %v", err)
	}

	configs.GetConfig().S3.AccessKeyID = "AKIAEXAMPLE"
	configs.GetConfig().S3.SecretAccessKey = "supersecret"

	var out bytes.Buffer
	c := newMigrateCommand("", &out)

	if err := configShowCmd.RunE(c, nil); err != nil {
		t.Fatalf("config show: %v", err)
	}

	if strings.Contains(out.String(), "supersecret") {
		t.Error("secret key printed in clear text")
	}

	if !strings.Contains(out.String(), "******") {
		t.Errorf("output = %q", out.String())
	}

	// 脱敏只发生在输出副本上，内存配置保持原值
	if configs.GetConfig().S3.SecretAccessKey != "supersecret" {
		t.Error("in-memory config mutated")
	}
}
