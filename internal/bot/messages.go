package bot

import (
	"fmt"

	"dreamie/internal/domain"
)

// notices builds what goes out after a committed change. The requester is
// told about every staff decision; the log channel sees everything.
func notices(app domain.Application, action domain.Action, actor domain.Actor, countdownHours int) []domain.Notification {
	toRequester := func(msg string) domain.Notification {
		return domain.Notification{
			Kind:          domain.NotifyTransitioned,
			Audience:      domain.AudienceRequester,
			Recipient:     app.Requester,
			ApplicationID: app.ID,
			Status:        app.Status,
			Message:       msg,
		}
	}
	toLog := func(msg string) domain.Notification {
		return domain.Notification{
			Kind:          domain.NotifyStaffActivity,
			Audience:      domain.AudienceLog,
			ApplicationID: app.ID,
			Status:        app.Status,
			Message:       msg,
			Fields:        map[string]string{"actor": actor.Name, "action": string(action)},
		}
	}

	villager := app.Villager.Name
	switch action {
	case domain.ActionApprove:
		return []domain.Notification{
			toRequester(fmt.Sprintf("Your application %s is approved by a staff member (%s). Use status to check progress.", app.ID, actor.Name)),
			toLog(fmt.Sprintf("%s approved an application: %s", actor.Name, app.ID)),
		}
	case domain.ActionDeny:
		return []domain.Notification{
			toRequester(fmt.Sprintf("Your application %s for %s has been rejected after review. You may submit a new application in 2 weeks.", app.ID, villager)),
			toLog(fmt.Sprintf("%s denied an application: %s", actor.Name, app.ID)),
		}
	case domain.ActionClaim:
		return []domain.Notification{
			toRequester(fmt.Sprintf("A staff member (%s) has begun looking for %s. Use status to check the latest status.", actor.Name, villager)),
			toLog(fmt.Sprintf("%s claimed an application: %s", actor.Name, app.ID)),
		}
	case domain.ActionFind:
		return []domain.Notification{
			toRequester(fmt.Sprintf("Your dreamie %s has been found. You have %dh to get an open plot ready and use ready to notify us. %s will contact you during your selected time slot. Application: %s. If you are not ready in time the application expires.",
				villager, countdownHours, actor.Name, app.ID)),
			toLog(fmt.Sprintf("%s found a requested villager: %s (%s)", actor.Name, villager, app.ID)),
		}
	case domain.ActionCloseOut:
		return []domain.Notification{
			toRequester(fmt.Sprintf("Congrats! You have found your dreamie, %s. Application %s is closed by %s.", villager, app.ID, actor.Name)),
			toLog(fmt.Sprintf("%s closed an application: %s", actor.Name, app.ID)),
		}
	case domain.ActionMarkReady:
		out := []domain.Notification{
			toLog(fmt.Sprintf("%s is ready to accept a dreamie (%s).", app.Requester.Name, villager)),
		}
		if app.AssignedStaffID != "" {
			out = append(out, domain.Notification{
				Kind:          domain.NotifyTransitioned,
				Audience:      domain.AudienceStaff,
				Recipient:     domain.Requester{AccountID: app.AssignedStaffID, Name: app.AssignedStaff},
				ApplicationID: app.ID,
				Status:        app.Status,
				Message:       fmt.Sprintf("%s is ready to accept a dreamie (%s). Application: %s", app.Requester.Name, villager, app.ID),
			})
		}
		return out
	case domain.ActionCancel:
		out := []domain.Notification{
			toLog(fmt.Sprintf("Cancelled application %s by %s", app.ID, actor.Name)),
		}
		if !actor.Owns(app) {
			out = append(out, toRequester(fmt.Sprintf("Your application %s was cancelled by a staff member (%s).", app.ID, actor.Name)))
		}
		return out
	}
	return nil
}

func createdNotices(app domain.Application) []domain.Notification {
	return []domain.Notification{
		{
			Kind:          domain.NotifyCreated,
			Audience:      domain.AudienceRequester,
			Recipient:     app.Requester,
			ApplicationID: app.ID,
			Status:        app.Status,
			Message:       fmt.Sprintf("This application has been logged for review. Please take a note of your application ID: %s", app.ID),
		},
		{
			Kind:          domain.NotifyCreated,
			Audience:      domain.AudienceLog,
			ApplicationID: app.ID,
			Status:        app.Status,
			Message:       fmt.Sprintf("%s requested a dreamie (%s) at %s", app.Requester.Name, app.Villager.Name, app.CreatedAt.Format("2006-01-02 15:04 MST")),
			Fields: map[string]string{
				"window":          app.AvailabilityWindow.String(),
				"can_time_travel": fmt.Sprint(app.CanTimeTravel),
			},
		},
	}
}
