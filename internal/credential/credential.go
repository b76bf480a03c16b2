package credential

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"mint-trader/internal/config"
)

const redacted = "***"

// Credential 为单个交易账户的 API 凭证，加载后不可变。
type Credential struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"api_pass"`
}

// String 输出脱敏后的凭证描述，避免密钥进入日志。
func (c Credential) String() string {
	return fmt.Sprintf("Credential{name=%s key=%s}", c.Name, redact(c.APIKey))
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

type file struct {
	Accounts []Credential `mapstructure:"accounts"`
}

// Load 从凭证文件读取全部账户凭证，任何格式或内容问题都视为致命配置错误。
func Load(path string) ([]Credential, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: 凭证文件路径为空", config.ErrConfig)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: 读取凭证文件 %q 失败: %w", config.ErrConfig, path, err)
	}

	var f file
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("%w: 解析凭证文件失败: %w", config.ErrConfig, err)
	}

	if err := validate(f.Accounts); err != nil {
		return nil, err
	}

	return f.Accounts, nil
}

func validate(creds []Credential) error {
	if len(creds) == 0 {
		return fmt.Errorf("%w: 凭证文件未包含任何账户", config.ErrConfig)
	}

	var err error
	seen := make(map[string]struct{}, len(creds))
	for i, c := range creds {
		if strings.TrimSpace(c.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("accounts[%d].name 不能为空", i))
		} else if _, dup := seen[c.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("accounts[%d].name 重复: %s", i, c.Name))
		} else {
			seen[c.Name] = struct{}{}
		}
		if c.APIKey == "" || c.APISecret == "" || c.Passphrase == "" {
			err = multierr.Append(err, fmt.Errorf("accounts[%d] 缺少 api_key/api_secret/api_pass", i))
		}
	}

	if err != nil {
		return fmt.Errorf("%w: 凭证校验失败: %w", config.ErrConfig, err)
	}
	return nil
}
