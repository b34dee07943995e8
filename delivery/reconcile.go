package delivery

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/parcel"
)

// handleNoticeReceivedLocked records an inbound delivery offer. Offers are
// deduplicated on the backend's IsNew flag so a re-announced notice neither
// resets reception progress nor produces a second log entry.
func (m *Manager) handleNoticeReceivedLocked(p parcel.NoticeReceived) {
	if _, known := m.notices[p.Notice.ID]; known {
		return
	}
	if !p.IsNew {
		return
	}
	notice := p.Notice.Clone()
	m.notices[notice.ID] = &notice

	sender := string(notice.Sender)
	if m.profiles != nil {
		ctx, cancel := m.ctx()
		if nick, err := m.profiles.Nickname(ctx, notice.Sender); err == nil && nick != "" {
			sender = nick
		}
		cancel()
	}

	m.appendLogLocked(parcel.NotificationEntry{
		Kind:     parcel.NotificationNewNoticeReceived,
		Notice:   notice.ID,
		Manifest: notice.ManifestID,
		Sender:   notice.Sender,
		Message:  sender + " offers " + notice.Description.Name,
	})

	logrus.WithFields(logrus.Fields{
		"function":  "handleNoticeReceivedLocked",
		"notice_id": notice.ID,
		"sender":    notice.Sender,
		"file_name": notice.Description.Name,
	}).Info("Delivery notice received")
}

// handleReplyAckLocked applies an accept/decline reply. For an outbound
// distribution it advances the recipient's delivery state; otherwise it is
// the confirmation of a locally issued decline and retires the notice.
func (m *Manager) handleReplyAckLocked(p parcel.ReplyAck) {
	if rec, ok := m.distributions[p.DistributionID]; ok {
		next := parcel.DeliveryAccepted
		if !p.HasAccepted {
			next = parcel.DeliveryDeclined
		}
		prev := rec.States[p.Recipient]
		rec.States[p.Recipient] = prev.Advance(next)

		if p.IsNew {
			m.appendLogLocked(parcel.NotificationEntry{
				Kind:         parcel.NotificationReplyReceived,
				Distribution: p.DistributionID,
				Manifest:     rec.ManifestID,
				Recipient:    p.Recipient,
				Accepted:     p.HasAccepted,
			})
		}

		logrus.WithFields(logrus.Fields{
			"function":     "handleReplyAckLocked",
			"distribution": p.DistributionID,
			"recipient":    p.Recipient,
			"accepted":     p.HasAccepted,
		}).Info("Delivery reply received")
		return
	}

	if p.Recipient != m.cfg.LocalAgent || p.HasAccepted {
		return
	}
	for id, n := range m.notices {
		if n.DistributionID != p.DistributionID {
			continue
		}
		delete(m.notices, id)
		if p.IsNew {
			m.appendLogLocked(parcel.NotificationEntry{
				Kind:         parcel.NotificationDeliveryDeclined,
				Notice:       id,
				Distribution: p.DistributionID,
				Manifest:     n.ManifestID,
				Sender:       n.Sender,
			})
		}
		logrus.WithFields(logrus.Fields{
			"function":  "handleReplyAckLocked",
			"notice_id": id,
		}).Info("Decline confirmed, notice retired")
		return
	}
}

// handleReceptionProofLocked retires a notice whose full reception the
// backend has recorded. A proof for an already retired notice is a no-op, so
// the reception-complete entry appears at most once per notice.
func (m *Manager) handleReceptionProofLocked(p parcel.ReceptionProof) {
	n, ok := m.notices[p.NoticeID]
	if !ok {
		return
	}
	m.completeNoticeLocked(n)
}

// handleReceptionAckLocked marks that a recipient fully received a
// distributed parcel. The per-recipient state is raised at least to
// NoticeDelivered; an accept reply may already have moved it further.
func (m *Manager) handleReceptionAckLocked(p parcel.ReceptionAck) {
	rec, ok := m.distributions[p.DistributionID]
	if !ok {
		return
	}
	prev := rec.States[p.Recipient]
	rec.States[p.Recipient] = prev.Advance(parcel.DeliveryNoticeDelivered)

	if p.IsNew {
		m.appendLogLocked(parcel.NotificationEntry{
			Kind:         parcel.NotificationDistributionComplete,
			Distribution: p.DistributionID,
			Manifest:     rec.ManifestID,
			Recipient:    p.Recipient,
		})
		logrus.WithFields(logrus.Fields{
			"function":     "handleReceptionAckLocked",
			"distribution": p.DistributionID,
			"recipient":    p.Recipient,
		}).Info("Recipient fully received parcel")
	}
}

// noticeChunkArrivedLocked strikes an arrived chunk off every accepted
// notice still waiting for it, completing notices whose missing set drains.
func (m *Manager) noticeChunkArrivedLocked(id parcel.EntryID) {
	for _, n := range m.notices {
		if !n.Accepted {
			continue
		}
		if _, missing := n.MissingChunks[id]; !missing {
			continue
		}
		delete(n.MissingChunks, id)
		if len(n.MissingChunks) == 0 {
			m.completeNoticeLocked(n)
		}
	}
}

// completeNoticeLocked retires a fully received notice, indexes the received
// manifest so the parcel is immediately searchable and fetchable, and records
// the reception in the notification log.
func (m *Manager) completeNoticeLocked(n *parcel.DeliveryNotice) {
	delete(m.notices, n.ID)

	if _, ok := m.manifests[n.ManifestID]; !ok {
		ctx, cancel := m.ctx()
		manifest, err := m.ledger.FetchManifest(ctx, n.ManifestID)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "completeNoticeLocked",
				"notice_id":   n.ID,
				"manifest_id": n.ManifestID,
				"error":       err.Error(),
			}).Warn("Could not index received manifest")
		} else {
			m.indexManifestLocked(manifest)
		}
	}

	m.appendLogLocked(parcel.NotificationEntry{
		Kind:     parcel.NotificationReceptionComplete,
		Notice:   n.ID,
		Manifest: n.ManifestID,
		Sender:   n.Sender,
		Message:  n.Description.Name,
	})
	logrus.WithFields(logrus.Fields{
		"function":  "completeNoticeLocked",
		"notice_id": n.ID,
		"file_name": n.Description.Name,
	}).Info("Parcel fully received")
}

// AcceptDelivery accepts an inbound offer and requests its missing chunks.
// An offer with nothing missing (content already held locally) completes
// immediately.
func (m *Manager) AcceptDelivery(id parcel.NoticeID) error {
	m.mu.Lock()
	n, ok := m.notices[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownReference
	}

	ctx, cancel := m.ctx()
	err := m.ledger.AcceptNotice(ctx, id)
	cancel()
	if err != nil {
		m.mu.Unlock()
		return backendErr("accept notice", err)
	}
	n.Accepted = true

	logrus.WithFields(logrus.Fields{
		"function":  "AcceptDelivery",
		"notice_id": id,
		"missing":   len(n.MissingChunks),
	}).Info("Delivery accepted")

	if len(n.MissingChunks) == 0 {
		m.completeNoticeLocked(n)
		m.mu.Unlock()
		m.notify()
		return nil
	}

	ctx, cancel = m.ctx()
	err = m.ledger.RequestMissingChunks(ctx, id)
	cancel()
	m.mu.Unlock()
	m.notify()
	if err != nil {
		return backendErr("request missing chunks", err)
	}
	return nil
}

// DeclineDelivery declines an inbound offer. The notice stays visible with
// DeclinePending set until the backend's reply ack makes the decline
// authoritative and retires it.
func (m *Manager) DeclineDelivery(id parcel.NoticeID) error {
	m.mu.Lock()
	n, ok := m.notices[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownReference
	}

	ctx, cancel := m.ctx()
	err := m.ledger.DeclineNotice(ctx, id)
	cancel()
	if err != nil {
		m.mu.Unlock()
		return backendErr("decline notice", err)
	}
	n.DeclinePending = true
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "DeclineDelivery",
		"notice_id": id,
	}).Info("Delivery declined, awaiting confirmation")

	m.notify()
	return nil
}

// ResumeInbounds re-requests missing chunks for every accepted notice still
// incomplete, typically after a restart. Failures are collected per notice;
// one stalled transfer does not block the others.
func (m *Manager) ResumeInbounds() error {
	m.mu.Lock()
	var pending []parcel.NoticeID
	for id, n := range m.notices {
		if n.Accepted && len(n.MissingChunks) > 0 {
			pending = append(pending, id)
		}
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "ResumeInbounds",
		"num_pending": len(pending),
	}).Info("Resuming incomplete inbound transfers")

	var errs []error
	for _, id := range pending {
		ctx, cancel := m.ctx()
		err := m.ledger.RequestMissingChunks(ctx, id)
		cancel()
		if err != nil {
			errs = append(errs, backendErr("request missing chunks", err))
		}
	}
	return errors.Join(errs...)
}

// CompletionPercentage reports the reception progress of a pending notice
// in [0, 1].
func (m *Manager) CompletionPercentage(id parcel.NoticeID) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notices[id]
	if !ok {
		return 0, ErrUnknownReference
	}
	return n.CompletionPercentage(), nil
}
