package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 是对 zk.Conn 的薄封装，锁实现只依赖它
type Conn struct {
	*zk.Conn
}

// Connect 建立会话，并等待会话真正建立后再返回
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("zookeeper: no servers configured")
	}
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", servers, err)
	}

	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return &Conn{Conn: c}, nil
			}
			if ev.State == zk.StateAuthFailed || ev.State == zk.StateExpired {
				c.Close()
				return nil, fmt.Errorf("zookeeper: session state %s", ev.State)
			}
		case <-timeout:
			c.Close()
			return nil, fmt.Errorf("zookeeper: no session after %s", sessionTimeout)
		}
	}
}
