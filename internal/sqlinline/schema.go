package sqlinline

// QCreateSchema is applied by `caricaturectl migrate`. The partial unique
// index keeps at most one active generation per owner and the check
// constraint ties output_image to the completed status.
const QCreateSchema = `--sql 50cfb1b4-622e-4762-9a97-ddc73c821bd2
create extension if not exists pgcrypto;

create table if not exists generations (
    id            uuid primary key default gen_random_uuid(),
    owner_id      text not null,
    subject       text not null,
    input_image   text not null,
    style_image   text not null,
    style_name    text not null default '',
    poll_handle   text not null default '',
    output_image  text,
    status        text not null,
    error_message text not null default '',
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now(),
    constraint generations_status_check
        check (status in ('created', 'dispatched', 'completed', 'failed', 'timed_out')),
    constraint generations_output_iff_completed
        check ((output_image is not null) = (status = 'completed'))
);

create unique index if not exists generations_one_active_per_owner
    on generations (owner_id)
    where status in ('created', 'dispatched');

create index if not exists generations_owner_created_at
    on generations (owner_id, created_at desc);

create table if not exists user_credits (
    owner_id   text primary key,
    credits    integer not null check (credits >= 0),
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create table if not exists credit_charges (
    job_id     text primary key,
    owner_id   text not null,
    charged_at timestamptz not null default now()
);

create table if not exists integration_tokens (
    id         uuid primary key default gen_random_uuid(),
    provider   text not null unique,
    token      text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
