package rediskey

import "fmt"

const (
	LockPrefix = "lock"

	TicketLockPrefix     = "lock:points:ticket"
	MilestoneLockPrefix  = "lock:points:milestone"
	BadgeLockPrefix      = "lock:badge"
	PerfectDayLockPrefix = "lock:badge:perfect_day"
	StreakLockKey        = "lock:badge:streak"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// TicketLock returns "lock:points:ticket:{ticketID}"
func TicketLock(ticketID string) string {
	return NamespaceKey(TicketLockPrefix, ticketID)
}

// MilestoneLock returns "lock:points:milestone:{userID}:{day}"
func MilestoneLock(userID, day string) string {
	return NamespaceKey(MilestoneLockPrefix, userID+":"+day)
}

// BadgeLock returns "lock:badge:{userID}:{day}:{badgeID}"
func BadgeLock(userID, day, badgeID string) string {
	return NamespaceKey(BadgeLockPrefix, userID+":"+day+":"+badgeID)
}

// PerfectDayLock returns "lock:badge:perfect_day:{userID}:{day}"
func PerfectDayLock(userID, day string) string {
	return NamespaceKey(PerfectDayLockPrefix, userID+":"+day)
}
