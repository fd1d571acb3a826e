package persistence

import "seckill/internal/service/seckill/domain"

func ToDomainProduct(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:            model.ID,
		Name:          model.Name,
		OriginalPrice: model.OriginalPrice,
		SalePrice:     model.SalePrice,
		TotalStock:    model.TotalStock,
		StartTime:     model.StartTime,
		EndTime:       model.EndTime,
		Status:        domain.ProductStatus(model.Status),
		Enabled:       model.Enabled,
		LimitPerUser:  model.LimitPerUser,
		AdmissionRule: model.AdmissionRule,
		Version:       model.Version,
	}
}

func FromDomainProduct(p *domain.Product) *ProductModel {
	if p == nil {
		return nil
	}
	return &ProductModel{
		ID:            p.ID,
		Name:          p.Name,
		OriginalPrice: p.OriginalPrice,
		SalePrice:     p.SalePrice,
		TotalStock:    p.TotalStock,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		Status:        int(p.Status),
		Enabled:       p.Enabled,
		LimitPerUser:  p.LimitPerUser,
		AdmissionRule: p.AdmissionRule,
		Version:       p.Version,
	}
}

func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:              model.ID,
		ReservationID:   model.ReservationID,
		UserID:          model.UserID,
		ProductID:       model.ProductID,
		Quantity:        model.Quantity,
		UnitPrice:       model.UnitPrice,
		TotalAmount:     model.TotalAmount,
		Status:          domain.OrderStatus(model.Status),
		PaymentIntentID: model.PaymentIntentID,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	return &OrderModel{
		ID:              o.ID,
		ReservationID:   o.ReservationID,
		UserID:          o.UserID,
		ProductID:       o.ProductID,
		Quantity:        o.Quantity,
		UnitPrice:       o.UnitPrice,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		PaymentIntentID: o.PaymentIntentID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
