package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsLegalTransition_HappyPath(t *testing.T) {
	path := []string{
		OrderStatusPending,
		OrderStatusPaid,
		OrderStatusRequirementsProvided,
		OrderStatusInProgress,
		OrderStatusDelivered,
		OrderStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, IsLegalTransition(path[i], path[i+1]),
			"переход %s -> %s должен быть легален", path[i], path[i+1])
	}
}

func TestIsLegalTransition_RevisionLoop(t *testing.T) {
	assert.True(t, IsLegalTransition(OrderStatusDelivered, OrderStatusRevisionRequested))
	assert.True(t, IsLegalTransition(OrderStatusRevisionRequested, OrderStatusInProgress))
	assert.True(t, IsLegalTransition(OrderStatusInProgress, OrderStatusDelivered))
}

func TestIsLegalTransition_CancelAndDisputeFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []string{
		OrderStatusPending, OrderStatusPaid, OrderStatusRequirementsProvided,
		OrderStatusInProgress, OrderStatusDelivered, OrderStatusRevisionRequested,
	}
	for _, from := range nonTerminal {
		assert.True(t, IsLegalTransition(from, OrderStatusCancelled), "отмена из %s", from)
		assert.True(t, IsLegalTransition(from, OrderStatusDisputed), "спор из %s", from)
	}
	for _, from := range []string{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded} {
		assert.False(t, IsLegalTransition(from, OrderStatusDisputed), "спор из финального %s", from)
	}
	// сам в себя не переходим
	assert.False(t, IsLegalTransition(OrderStatusDisputed, OrderStatusDisputed))
}

func TestIsLegalTransition_RefundOnlyFromCancelledOrDisputed(t *testing.T) {
	assert.True(t, IsLegalTransition(OrderStatusCancelled, OrderStatusRefunded))
	assert.True(t, IsLegalTransition(OrderStatusDisputed, OrderStatusRefunded))
	assert.False(t, IsLegalTransition(OrderStatusCompleted, OrderStatusRefunded))
	assert.False(t, IsLegalTransition(OrderStatusDelivered, OrderStatusRefunded))
	assert.False(t, IsLegalTransition(OrderStatusPending, OrderStatusRefunded))
}

func TestIsLegalTransition_NoSkips(t *testing.T) {
	assert.False(t, IsLegalTransition(OrderStatusPending, OrderStatusInProgress))
	assert.False(t, IsLegalTransition(OrderStatusPaid, OrderStatusDelivered))
	assert.False(t, IsLegalTransition(OrderStatusDelivered, OrderStatusInProgress))
	assert.False(t, IsLegalTransition(OrderStatusCompleted, OrderStatusDelivered))
}

func TestCanTransition_Roles(t *testing.T) {
	// оплату и приёмку делает клиент
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusPaid, UserTypeClient))
	assert.False(t, CanTransition(OrderStatusPending, OrderStatusPaid, UserTypeFreelancer))
	assert.True(t, CanTransition(OrderStatusDelivered, OrderStatusCompleted, UserTypeClient))
	assert.False(t, CanTransition(OrderStatusDelivered, OrderStatusCompleted, UserTypeFreelancer))

	// работу сдаёт фрилансер
	assert.True(t, CanTransition(OrderStatusInProgress, OrderStatusDelivered, UserTypeFreelancer))
	assert.False(t, CanTransition(OrderStatusInProgress, OrderStatusDelivered, UserTypeClient))

	// возврат подтверждает только администратор
	assert.True(t, CanTransition(OrderStatusDisputed, OrderStatusRefunded, UserTypeAdmin))
	assert.False(t, CanTransition(OrderStatusDisputed, OrderStatusRefunded, UserTypeClient))
	assert.False(t, CanTransition(OrderStatusDisputed, OrderStatusRefunded, UserTypeFreelancer))

	// отмену и спор инициирует любая сторона
	assert.True(t, CanTransition(OrderStatusInProgress, OrderStatusCancelled, UserTypeClient))
	assert.True(t, CanTransition(OrderStatusInProgress, OrderStatusDisputed, UserTypeFreelancer))
	assert.False(t, CanTransition(OrderStatusInProgress, OrderStatusCancelled, ""))
}

func TestCanTransition_AdminDoesAnyLegalEdge(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusPaid, UserTypeAdmin))
	assert.True(t, CanTransition(OrderStatusInProgress, OrderStatusDelivered, UserTypeAdmin))
	// но не нелегальный
	assert.False(t, CanTransition(OrderStatusCompleted, OrderStatusRefunded, UserTypeAdmin))
}

func TestRoleOf(t *testing.T) {
	clientID := uuid.New()
	freelancerID := uuid.New()
	order := &Order{ClientID: clientID, FreelancerID: freelancerID}

	assert.Equal(t, UserTypeClient, order.RoleOf(&Actor{ID: clientID, UserType: UserTypeClient}))
	assert.Equal(t, UserTypeFreelancer, order.RoleOf(&Actor{ID: freelancerID, UserType: UserTypeFreelancer}))
	assert.Equal(t, UserTypeAdmin, order.RoleOf(&Actor{ID: uuid.New(), UserType: UserTypeAdmin}))
	assert.Equal(t, "", order.RoleOf(&Actor{ID: uuid.New(), UserType: UserTypeClient}))
}

func TestHasRevisionsLeft(t *testing.T) {
	order := &Order{RevisionsIncluded: 2, RevisionsUsed: 0}
	assert.True(t, order.HasRevisionsLeft())

	order.RevisionsUsed = 2
	assert.False(t, order.HasRevisionsLeft())

	order.RevisionsIncluded = RevisionsUnlimited
	order.RevisionsUsed = 100
	assert.True(t, order.HasRevisionsLeft())

	order.RevisionsIncluded = 0
	order.RevisionsUsed = 0
	assert.False(t, order.HasRevisionsLeft())
}

func TestIsOverdue(t *testing.T) {
	now := time.Now()
	order := &Order{Status: OrderStatusInProgress, DeliveryDeadline: now.Add(-time.Hour)}
	assert.True(t, order.IsOverdue(now))

	order.DeliveryDeadline = now.Add(time.Hour)
	assert.False(t, order.IsOverdue(now))

	// финальные статусы просроченными не считаются
	order.Status = OrderStatusCompleted
	order.DeliveryDeadline = now.Add(-time.Hour)
	assert.False(t, order.IsOverdue(now))
}

func TestIdentifierFormat(t *testing.T) {
	orderRe := regexp.MustCompile(`^ORD\d{14}\d{4}$`)
	txnRe := regexp.MustCompile(`^TXN\d{14}\d{4}$`)
	payRe := regexp.MustCompile(`^PAY\d{14}\d{4}$`)

	assert.Regexp(t, orderRe, NewOrderNumber())
	assert.Regexp(t, txnRe, NewTransactionID())
	assert.Regexp(t, payRe, NewPayoutBatchID())
}
