// Package identity 定义核心所消费的身份提供方契约。
// 认证流程（注册、登录、签发令牌）是外部协作者；本核心只消费
// 一个稳定的用户标识与展示档案。
package identity

import (
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// User 是身份提供方给出的已认证用户。
type User struct {
	UID   string
	Name  string
	Email string
}

// DisplayName 返回用于展示的名字：优先显示名，否则邮箱的
// 本地部分，最后兜底 "User"。
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return "User"
}

// Avatar 返回展示头像：显示名首字符的大写形式。
func (u User) Avatar() string {
	name := u.DisplayName()
	for _, r := range name {
		return string(unicode.ToUpper(r))
	}
	return "U"
}

// contextKey 是认证中间件写入 gin.Context 的键。
const contextKey = "identity.user"

// Inject 把已认证用户写入请求上下文。由认证中间件调用。
func Inject(c *gin.Context, u User) {
	c.Set(contextKey, u)
}

// FromContext 取出当前请求的已认证用户。
func FromContext(c *gin.Context) (User, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}
