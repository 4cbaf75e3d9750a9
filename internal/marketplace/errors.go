package marketplace

import "github.com/aimerfeng/CourseChain/internal/models"

// Course registry errors
var (
	ErrCourseNotFound = models.NewError(models.KindNotFound, "marketplace: course not found")
	ErrInvalidPrice   = models.NewError(models.KindInvalidInput, "marketplace: price must be a positive whole amount")
	ErrMissingTitle   = models.NewError(models.KindInvalidInput, "marketplace: title is required")
	ErrMissingContent = models.NewError(models.KindInvalidInput, "marketplace: content hash is required")
	ErrNotCreator     = models.NewError(models.KindForbidden, "marketplace: caller is not the course creator")
)

// Purchase ledger errors
var (
	ErrInactiveCourse             = models.NewError(models.KindConflict, "marketplace: course is not active")
	ErrInsufficientPayment        = models.NewError(models.KindInsufficientFunds, "marketplace: payment is below the course price")
	ErrAlreadyPurchased           = models.NewError(models.KindConflict, "marketplace: course already purchased")
	ErrNotPurchased               = models.NewError(models.KindConflict, "marketplace: course not purchased")
	ErrAlreadyCompleted           = models.NewError(models.KindConflict, "marketplace: course already completed")
	ErrAlreadyRequested           = models.NewError(models.KindConflict, "marketplace: refund already requested")
	ErrAlreadyRefunded            = models.NewError(models.KindConflict, "marketplace: purchase already refunded")
	ErrRefundPending              = models.NewError(models.KindConflict, "marketplace: refund request is pending")
	ErrCourseCompleted            = models.NewError(models.KindConflict, "marketplace: course completed, refund not possible")
	ErrNoRequestPending           = models.NewError(models.KindConflict, "marketplace: no refund request pending")
	ErrRefundWindowExpired        = models.NewError(models.KindWindowExpired, "marketplace: refund window expired")
	ErrInsufficientCreatorBalance = models.NewError(models.KindInsufficientFunds, "marketplace: creator balance too low for refund")
	ErrInsufficientPlatformFunds  = models.NewError(models.KindInsufficientFunds, "marketplace: platform balance too low for refund")
	ErrNothingToWithdraw          = models.NewError(models.KindInsufficientFunds, "marketplace: nothing to withdraw")
	ErrFeeTooHigh                 = models.NewError(models.KindInvalidInput, "marketplace: fee percent out of range")
)
