package entity

import "time"

// User 用户实体。前端以 userId + deviceId 标识一个匿名用户。
type User struct {
	ID           string    `json:"userId"`
	DeviceID     string    `json:"deviceId,omitempty"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// NewUser 创建用户
func NewUser(id, deviceID, name string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           id,
		DeviceID:     deviceID,
		Name:         name,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// TouchActive 更新最近活跃时间
func (u *User) TouchActive() {
	u.LastActiveAt = time.Now().UTC()
}
